package httpclient

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/tidwall/gjson"
)

// NetworkErrorMessage is the message of every transport or parsing failure.
const NetworkErrorMessage = "A network error occurred"

// Wire sentinels carried in the "error" member of a response envelope.
const (
	SentinelRefresh = "refresh"
	SentinelReauth  = "re-auth"
)

// Status tags an Outcome.
type Status int

const (
	// StatusOK is a successful envelope; Data holds its data member.
	StatusOK Status = iota
	// StatusNeedsRefresh means the backend asked for an access token refresh.
	StatusNeedsRefresh
	// StatusNeedsReauth means the backend asked for a fresh login.
	StatusNeedsReauth
	// StatusFailed carries an ordinary failure in Message.
	StatusFailed
	// StatusCancelled means the caller aborted the request.
	StatusCancelled
	// StatusSignedOut is returned by the default re-auth handler after the sessions were dropped.
	StatusSignedOut
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusNeedsRefresh:
		return "needs-refresh"
	case StatusNeedsReauth:
		return "needs-reauth"
	case StatusFailed:
		return "failed"
	case StatusCancelled:
		return "cancelled"
	case StatusSignedOut:
		return "signed-out"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Outcome is the decoded result of a request.
type Outcome struct {
	Status Status
	// Data is the raw JSON of the envelope's data member. Nil when absent.
	Data json.RawMessage
	// Body is the raw response body. For streamed downloads it is only set when the
	// server answered with a JSON envelope.
	Body []byte
	// Message is the failure message for StatusFailed.
	Message string
	// StatusCode is the HTTP status, 0 when no response was received.
	StatusCode int
	// Header is the response header, nil when no response was received.
	Header http.Header
}

// OK reports whether the outcome is a success.
func (o Outcome) OK() bool { return o.Status == StatusOK }

// Err converts a non-successful outcome into an error; nil for StatusOK.
func (o Outcome) Err() error {
	switch o.Status {
	case StatusOK:
		return nil
	case StatusFailed:
		return &OutcomeError{Status: o.Status, Message: o.Message}
	default:
		return &OutcomeError{Status: o.Status}
	}
}

// Decode unmarshals Data into v.
func (o Outcome) Decode(v any) error {
	if len(o.Data) == 0 {
		return fmt.Errorf("httpclient: outcome has no data")
	}
	if err := json.Unmarshal(o.Data, v); err != nil {
		return fmt.Errorf("httpclient: decode data: %w", err)
	}
	return nil
}

// Get reads a gjson path from Data.
func (o Outcome) Get(path string) gjson.Result {
	return gjson.GetBytes(o.Data, path)
}

// OutcomeError wraps a non-successful Outcome.
type OutcomeError struct {
	Status  Status
	Message string
}

func (e *OutcomeError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return "httpclient: " + e.Status.String()
}

// Failed builds a StatusFailed outcome.
func Failed(message string) Outcome {
	return Outcome{Status: StatusFailed, Message: message}
}

// Cancelled builds a StatusCancelled outcome with empty data.
func Cancelled() Outcome {
	return Outcome{Status: StatusCancelled}
}

func networkFailure(resp *Response) Outcome {
	out := Failed(NetworkErrorMessage)
	if resp != nil {
		out.StatusCode = resp.StatusCode
		out.Header = resp.Header
	}
	return out
}

// decodeEnvelope maps a JSON body onto an Outcome. An empty body is a success without data.
func decodeEnvelope(resp *Response) Outcome {
	body := resp.Body
	if len(strings.TrimSpace(string(body))) == 0 {
		return Outcome{Status: StatusOK, StatusCode: resp.StatusCode, Header: resp.Header}
	}
	if !gjson.ValidBytes(body) {
		return networkFailure(resp)
	}
	root := gjson.ParseBytes(body)
	if !root.IsObject() {
		return networkFailure(resp)
	}
	out := Outcome{StatusCode: resp.StatusCode, Header: resp.Header, Body: body}
	if data := root.Get("data"); data.Exists() && data.Type != gjson.Null {
		out.Data = json.RawMessage(data.Raw)
	}
	errField := root.Get("error")
	message := ""
	if errField.Exists() {
		switch errField.Type {
		case gjson.String:
			message = errField.Str
		case gjson.Null, gjson.False:
		default:
			message = errField.Raw
		}
	}
	switch message {
	case "":
		out.Status = StatusOK
	case SentinelRefresh:
		out.Status = StatusNeedsRefresh
		out.Data = nil
	case SentinelReauth:
		out.Status = StatusNeedsReauth
		out.Data = nil
	default:
		out.Status = StatusFailed
		out.Message = message
	}
	return out
}

// decodeBinary keeps raw bytes unless the server answered with a JSON envelope.
func decodeBinary(resp *Response) Outcome {
	if isJSONContentType(resp.Header.Get("Content-Type")) {
		return decodeEnvelope(resp)
	}
	return Outcome{Status: StatusOK, Body: resp.Body, StatusCode: resp.StatusCode, Header: resp.Header}
}

func isJSONContentType(ct string) bool {
	ct = strings.ToLower(strings.TrimSpace(ct))
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = strings.TrimSpace(ct[:i])
	}
	return ct == "application/json" || strings.HasSuffix(ct, "+json")
}
