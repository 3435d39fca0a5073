package proxy

import (
	"bytes"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"sort"
	"strconv"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/signagehub/edge/internal/errors"
)

// Body modes selected from the request Content-Type.
const (
	bodyStream    = "stream"
	bodyMultipart = "multipart"
	bodyJSON      = "json"
	bodyForm      = "form"
)

// outboundBody is the body sent upstream. Buffered modes keep the bytes so
// the command hook can inspect them after the call.
type outboundBody struct {
	mode        string
	reader      io.ReadCloser
	length      int64
	contentType string // replaces the client's Content-Type when set
	buffered    []byte
}

func bodyMode(contentType string) string {
	if contentType == "" {
		return bodyStream
	}
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return bodyStream
	}
	switch {
	case mediaType == "multipart/form-data":
		return bodyMultipart
	case mediaType == "application/json" || (len(mediaType) > 5 && mediaType[len(mediaType)-5:] == "+json"):
		return bodyJSON
	case mediaType == "application/x-www-form-urlencoded":
		return bodyForm
	}
	return bodyStream
}

// prepareBody turns the client body into the upstream body.
func prepareBody(r *http.Request, maxBytes int64) (*outboundBody, *errors.EdgeError) {
	mode := bodyMode(r.Header.Get("Content-Type"))
	if r.Body == nil || r.Body == http.NoBody || mode == bodyStream || mode == bodyMultipart {
		return &outboundBody{mode: mode, reader: r.Body, length: r.ContentLength}, nil
	}

	raw, err := readBounded(r.Body, maxBytes)
	if err != nil {
		return nil, err
	}

	switch mode {
	case bodyJSON:
		return jsonBody(raw)
	default:
		return formBody(raw)
	}
}

func readBounded(body io.Reader, maxBytes int64) ([]byte, *errors.EdgeError) {
	if maxBytes <= 0 {
		maxBytes = 200 << 20
	}
	raw, err := io.ReadAll(io.LimitReader(body, maxBytes+1))
	if err != nil {
		return nil, errors.ErrBadRequest.WithDetails("failed to read request body")
	}
	if int64(len(raw)) > maxBytes {
		return nil, errors.ErrRequestEntityTooLarge.WithDetails(fmt.Sprintf("request body exceeds %d bytes", maxBytes))
	}
	return raw, nil
}

func buffered(mode string, b []byte, contentType string) *outboundBody {
	return &outboundBody{
		mode:        mode,
		reader:      io.NopCloser(bytes.NewReader(b)),
		length:      int64(len(b)),
		contentType: contentType,
		buffered:    b,
	}
}

// jsonBody validates the document and compacts non-empty objects and arrays.
// Empty bodies and empty containers are passed through as received.
func jsonBody(raw []byte) (*outboundBody, *errors.EdgeError) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return buffered(bodyJSON, raw, ""), nil
	}
	if !gjson.ValidBytes(raw) {
		return nil, errors.ErrBadRequest.WithDetails("request body is not valid JSON")
	}
	doc := gjson.ParseBytes(raw)
	if (doc.IsObject() || doc.IsArray()) && hasMembers(doc) {
		raw = []byte(doc.Get("@ugly").Raw)
	}
	return buffered(bodyJSON, raw, ""), nil
}

func hasMembers(doc gjson.Result) bool {
	found := false
	doc.ForEach(func(_, _ gjson.Result) bool {
		found = true
		return false
	})
	return found
}

// formBody forwards a url-encoded form as a JSON object. Repeated keys become
// arrays; an empty form is passed through untouched.
func formBody(raw []byte) (*outboundBody, *errors.EdgeError) {
	values, err := url.ParseQuery(string(raw))
	if err != nil {
		return nil, errors.ErrBadRequest.WithDetails("malformed form body")
	}
	if len(values) == 0 {
		return buffered(bodyForm, raw, ""), nil
	}

	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	doc := []byte("{}")
	for _, k := range keys {
		var v any = values[k]
		if len(values[k]) == 1 {
			v = values[k][0]
		}
		doc, err = sjson.SetBytes(doc, gjson.Escape(k), v)
		if err != nil {
			return nil, errors.ErrBadRequest.WithDetails("form field " + strconv.Quote(k) + " cannot be represented as JSON")
		}
	}
	return buffered(bodyForm, doc, "application/json"), nil
}
