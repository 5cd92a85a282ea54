package api

import (
	"io"
	"mime"
	"net/http"
	"strings"

	"github.com/Scille/parsec-cloud-sub013/internal/transport"
)

const (
	mimeJSON = "application/json"
	mimeCBOR = "application/cbor"

	maxBodySize = 1 << 20
)

// codec serializes request & reply bodies for a media type.
type codec struct {
	mime string
	srz  transport.Serializer
}

var (
	jsonCodec = codec{mime: mimeJSON, srz: transport.JSONSerializer{}}
	cborCodec = codec{mime: mimeCBOR, srz: transport.CBORSerializer{}}
)

// codecFor returns the codec of the first media type in header, JSON by default.
func codecFor(header string) codec {
	first, _, _ := strings.Cut(header, ",")
	mt, _, err := mime.ParseMediaType(strings.TrimSpace(first))
	if nil == err && mimeCBOR == mt {
		return cborCodec
	}
	return jsonCodec
}

// requestCodec returns the codec of r body.
// It falls back on the Accept header for requests without Content-Type.
func requestCodec(r *http.Request) codec {
	if ct := r.Header.Get("Content-Type"); "" != ct {
		return codecFor(ct)
	}
	return codecFor(r.Header.Get("Accept"))
}

// readBody reads at most maxBodySize bytes from body.
func readBody(body io.Reader) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(body, maxBodySize+1))
	if nil != err {
		return nil, wrapFlag(err, ErrBadRequest, "failed reading body")
	}
	if len(data) > maxBodySize {
		return nil, raise(ErrBadRequest, "body larger than %d bytes", maxBodySize)
	}
	return data, nil
}

// decode unmarshals r body in dst. An empty body leaves dst unchanged.
func (self codec) decode(r *http.Request, dst any) error {
	data, err := readBody(r.Body)
	if nil != err {
		return err
	}
	if 0 == len(data) {
		return nil
	}
	err = self.srz.Unmarshal(data, dst)
	if nil != err {
		return wrapFlag(err, ErrBadRequest, "failed decoding %s body", self.mime)
	}
	return nil
}

// write sends rep with HTTP status code.
func (self codec) write(w http.ResponseWriter, code int, rep any) error {
	data, err := self.srz.Marshal(rep)
	if nil != err {
		return wrapError(err, "failed encoding %s reply", self.mime)
	}
	w.Header().Set("Content-Type", self.mime)
	w.WriteHeader(code)
	_, err = w.Write(data)
	return wrapError(err, "failed writing reply")
}
