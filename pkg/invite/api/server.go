package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"

	"github.com/Scille/parsec-cloud-sub013/internal/observability"
	"github.com/Scille/parsec-cloud-sub013/pkg/invite"
)

// ServerCfg holds the configuration of the invitation HTTP API.
type ServerCfg struct {
	Service       *invite.Service
	Tokens        TokenAuthority
	TraceIdHeader string
	EventBuffer   int
	PingPeriod    time.Duration
}

func (self ServerCfg) Check() error {
	if nil == self.Service {
		return newError("nil Service")
	}
	err := self.Tokens.Check()
	if nil != err {
		return wrapError(err, "invalid Tokens")
	}
	if self.EventBuffer < 0 {
		return newError("negative EventBuffer")
	}
	if self.PingPeriod < 0 {
		return newError("negative PingPeriod")
	}
	return nil
}

type handler struct {
	svc         *invite.Service
	tokens      TokenAuthority
	upgrader    websocket.Upgrader
	eventBuffer int
	pingPeriod  time.Duration
}

// NewHandler returns the http.Handler serving the invitation API.
// It errors if cfg is invalid.
func NewHandler(cfg ServerCfg) (http.Handler, error) {
	err := cfg.Check()
	if nil != err {
		return nil, wrapError(err, "invalid ServerCfg")
	}
	h := &handler{
		svc:    cfg.Service,
		tokens: cfg.Tokens,
		upgrader: websocket.Upgrader{
			// clients authenticate with a Bearer token, not with cookies
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		eventBuffer: cfg.EventBuffer,
		pingPeriod:  cfg.PingPeriod,
	}
	if 0 == h.eventBuffer {
		h.eventBuffer = 64
	}
	if 0 == h.pingPeriod {
		h.pingPeriod = 30 * time.Second
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(observability.Middleware{TraceIdHeader: cfg.TraceIdHeader}.Wrap)
	r.Use(middleware.Recoverer)

	r.Route("/v1/org/{org}", func(r chi.Router) {
		r.Route("/invited", func(r chi.Router) {
			r.Use(h.invitedAuth)
			r.Get("/info", h.invitedInfo)
			r.Post("/greeting-attempt", h.claimerStartAttempt)
			r.Post("/greeting-attempt/{attempt}/step/{n}", h.claimerStep)
			r.Post("/greeting-attempt/{attempt}/cancel", h.claimerCancelAttempt)
		})
		r.Group(func(r chi.Router) {
			r.Use(h.deviceAuth)
			r.Post("/invite/user", h.newUserInvitation)
			r.Post("/invite/device", h.newDeviceInvitation)
			r.Post("/invite/shamir", h.newShamirInvitation)
			r.Get("/invite", h.listInvitations)
			r.Post("/invite/{token}/cancel", h.cancelInvitation)
			r.Post("/invite/{token}/greeting-attempt", h.greeterStartAttempt)
			r.Post("/greeting-attempt/{attempt}/step/{n}", h.greeterStep)
			r.Post("/greeting-attempt/{attempt}/cancel", h.greeterCancelAttempt)
			r.Get("/events", h.events)
		})
	})

	return r, nil
}

// writeError sends the reply describing err.
func (self *handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	log := observability.GetObservability(r.Context()).Log()
	ws := errorStatus(err)
	if http.StatusInternalServerError == ws.code {
		log.Error("failed request", "error", err)
	} else {
		log.Debug("rejected request", "status", ws.status, "error", err)
	}
	werr := requestCodec(r).write(w, ws.code, newErrorRep(ws, err))
	if nil != werr {
		log.Error("failed meanwhile delivering the HTTP response", "error", werr)
	}
}

// write sends rep with status 200.
func (self *handler) write(w http.ResponseWriter, r *http.Request, rep any) {
	err := requestCodec(r).write(w, http.StatusOK, rep)
	if nil != err {
		observability.GetObservability(r.Context()).Log().Error("failed meanwhile delivering the HTTP response", "error", err)
	}
}

// decode unmarshals the request body in dst, it writes the error reply if it fails.
func (self *handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	err := requestCodec(r).decode(r, dst)
	if nil != err {
		self.writeError(w, r, err)
		return false
	}
	return true
}

func tokenParam(r *http.Request) (invite.Token, error) {
	return invite.ParseToken(chi.URLParam(r, "token"))
}

func attemptParam(r *http.Request) (invite.AttemptID, error) {
	return invite.ParseAttemptID(chi.URLParam(r, "attempt"))
}

func stepParam(r *http.Request) (int, error) {
	s := chi.URLParam(r, "n")
	n, err := strconv.Atoi(s)
	if nil != err {
		return 0, wrapFlag(err, ErrBadRequest, "invalid step %q", s)
	}
	return n, nil
}

func (self *handler) newUserInvitation(w http.ResponseWriter, r *http.Request) {
	var req newUserInvitationReq
	if !self.decode(w, r, &req) {
		return
	}
	res, err := self.svc.NewUserInvitation(r.Context(), authorOf(r.Context()), req.ClaimerEmail, req.SendEmail)
	if nil != err {
		self.writeError(w, r, err)
		return
	}
	self.write(w, r, newInvitationRep{Status: statusOK, Token: res.Token, EmailSent: res.EmailSent})
}

func (self *handler) newDeviceInvitation(w http.ResponseWriter, r *http.Request) {
	var req newDeviceInvitationReq
	if !self.decode(w, r, &req) {
		return
	}
	res, err := self.svc.NewDeviceInvitation(r.Context(), authorOf(r.Context()), req.SendEmail)
	if nil != err {
		self.writeError(w, r, err)
		return
	}
	self.write(w, r, newInvitationRep{Status: statusOK, Token: res.Token, EmailSent: res.EmailSent})
}

func (self *handler) newShamirInvitation(w http.ResponseWriter, r *http.Request) {
	var req newShamirInvitationReq
	if !self.decode(w, r, &req) {
		return
	}
	res, err := self.svc.NewShamirRecoveryInvitation(
		r.Context(),
		authorOf(r.Context()),
		req.ClaimerUserID,
		req.Recipients,
		req.SendEmail,
	)
	if nil != err {
		self.writeError(w, r, err)
		return
	}
	self.write(w, r, newInvitationRep{Status: statusOK, Token: res.Token, EmailSent: res.EmailSent})
}

func (self *handler) listInvitations(w http.ResponseWriter, r *http.Request) {
	infos, err := self.svc.ListInvitations(r.Context(), authorOf(r.Context()))
	if nil != err {
		self.writeError(w, r, err)
		return
	}
	if nil == infos {
		infos = []invite.InvitationInfo{}
	}
	self.write(w, r, listInvitationsRep{Status: statusOK, Invitations: infos})
}

func (self *handler) cancelInvitation(w http.ResponseWriter, r *http.Request) {
	token, err := tokenParam(r)
	if nil == err {
		err = self.svc.CancelInvitation(r.Context(), authorOf(r.Context()), token)
	}
	if nil != err {
		self.writeError(w, r, err)
		return
	}
	self.write(w, r, statusRep{Status: statusOK})
}

func (self *handler) greeterStartAttempt(w http.ResponseWriter, r *http.Request) {
	token, err := tokenParam(r)
	var id invite.AttemptID
	if nil == err {
		id, err = self.svc.GreeterStartGreetingAttempt(r.Context(), authorOf(r.Context()), token)
	}
	if nil != err {
		self.writeError(w, r, err)
		return
	}
	self.write(w, r, startAttemptRep{Status: statusOK, AttemptID: id})
}

func (self *handler) greeterStep(w http.ResponseWriter, r *http.Request) {
	author := authorOf(r.Context())
	self.step(w, r, func(id invite.AttemptID, n int, payload []byte) (invite.StepResult, error) {
		return self.svc.GreeterStep(r.Context(), author, id, n, payload)
	})
}

func (self *handler) greeterCancelAttempt(w http.ResponseWriter, r *http.Request) {
	author := authorOf(r.Context())
	self.cancelAttempt(w, r, func(id invite.AttemptID, reason invite.CancelReason) error {
		return self.svc.GreeterCancelGreetingAttempt(r.Context(), author, id, reason)
	})
}

func (self *handler) invitedInfo(w http.ResponseWriter, r *http.Request) {
	info, err := self.svc.InfoAsInvited(r.Context(), invitedOf(r.Context()))
	if nil != err {
		self.writeError(w, r, err)
		return
	}
	self.write(w, r, invitedInfoRep{Status: statusOK, Info: info})
}

func (self *handler) claimerStartAttempt(w http.ResponseWriter, r *http.Request) {
	var req startAttemptReq
	if !self.decode(w, r, &req) {
		return
	}
	id, err := self.svc.ClaimerStartGreetingAttempt(r.Context(), invitedOf(r.Context()), req.GreeterUserID)
	if nil != err {
		self.writeError(w, r, err)
		return
	}
	self.write(w, r, startAttemptRep{Status: statusOK, AttemptID: id})
}

func (self *handler) claimerStep(w http.ResponseWriter, r *http.Request) {
	invited := invitedOf(r.Context())
	self.step(w, r, func(id invite.AttemptID, n int, payload []byte) (invite.StepResult, error) {
		return self.svc.ClaimerStep(r.Context(), invited, id, n, payload)
	})
}

func (self *handler) claimerCancelAttempt(w http.ResponseWriter, r *http.Request) {
	invited := invitedOf(r.Context())
	self.cancelAttempt(w, r, func(id invite.AttemptID, reason invite.CancelReason) error {
		return self.svc.ClaimerCancelGreetingAttempt(r.Context(), invited, id, reason)
	})
}

type stepFunc func(id invite.AttemptID, n int, payload []byte) (invite.StepResult, error)

// step runs the step call of either side.
// A step that is not ready yet is replied with the not_ready status.
func (self *handler) step(w http.ResponseWriter, r *http.Request, call stepFunc) {
	id, err := attemptParam(r)
	if nil != err {
		self.writeError(w, r, err)
		return
	}
	n, err := stepParam(r)
	if nil != err {
		self.writeError(w, r, err)
		return
	}
	var req stepReq
	if !self.decode(w, r, &req) {
		return
	}

	res, err := call(id, n, req.Payload)
	if nil != err {
		self.writeError(w, r, err)
		return
	}
	if !res.Ready {
		self.write(w, r, stepRep{Status: statusNotReady})
		return
	}
	self.write(w, r, stepRep{Status: statusOK, Payload: res.Payload, Last: res.Last})
}

type cancelFunc func(id invite.AttemptID, reason invite.CancelReason) error

func (self *handler) cancelAttempt(w http.ResponseWriter, r *http.Request, call cancelFunc) {
	id, err := attemptParam(r)
	if nil != err {
		self.writeError(w, r, err)
		return
	}
	var req cancelAttemptReq
	if !self.decode(w, r, &req) {
		return
	}
	err = call(id, req.Reason)
	if nil != err {
		self.writeError(w, r, err)
		return
	}
	self.write(w, r, statusRep{Status: statusOK})
}
