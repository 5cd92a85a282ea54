package api

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Scille/parsec-cloud-sub013/internal/observability"
	"github.com/Scille/parsec-cloud-sub013/pkg/invite"
)

const writeWait = 10 * time.Second

// events streams the author organization events as websocket JSON frames.
func (self *handler) events(w http.ResponseWriter, r *http.Request) {
	author := authorOf(r.Context())
	log := observability.GetObservability(r.Context()).Log().With("handler", "events")

	// subscribing before the upgrade delivers every event published once the client is connected
	sub := self.svc.Events().Subscribe(self.eventBuffer, invite.OrgFilter(author.Org))
	defer sub.Close()

	conn, err := self.upgrader.Upgrade(w, r, nil)
	if nil != err {
		log.Debug("failed websocket upgrade", "error", err)
		return
	}
	defer conn.Close()
	log.Debug("opened event stream")

	// the read loop detects the client going away, incoming messages are discarded
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.NextReader(); nil != err {
				return
			}
		}
	}()

	ping := time.NewTicker(self.pingPeriod)
	defer ping.Stop()

	for {
		select {
		case evt, ok := <-sub.C:
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			err = conn.WriteJSON(evt)
			if nil != err {
				log.Debug("failed writing event", "error", err)
				return
			}
		case <-ping.C:
			err = conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
			if nil != err {
				log.Debug("failed writing ping", "error", err)
				return
			}
		case <-gone:
			log.Debug("closed event stream")
			return
		case <-r.Context().Done():
			return
		}
	}
}
