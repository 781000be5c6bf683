package wire

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
)

// ErrMalformedEnvelope is the sentinel wrapped into every parse failure so
// callers can errors.Is against it regardless of the underlying cause.
var ErrMalformedEnvelope = errors.New("malformed-envelope")

var lastLocaleMu sync.Mutex
var lastLocale = DefaultLocale

// LastObservedLocale returns the most recently parsed non-empty locale,
// falling back to DefaultLocale. Parsing a message is a side effect on this
// process-wide value, matching the wire rule that the locale slot inherits
// from the last message seen when the current one doesn't set one.
func LastObservedLocale() string {
	lastLocaleMu.Lock()
	defer lastLocaleMu.Unlock()
	return lastLocale
}

func observeLocale(l string) {
	if l == "" {
		return
	}
	lastLocaleMu.Lock()
	lastLocale = l
	lastLocaleMu.Unlock()
}

// classTagged is the generic "__c"/"__p" envelope every wire object uses.
type classTagged struct {
	Class   string          `json:"__c"`
	Payload json.RawMessage `json:"__p"`
}

type wireMessagePayload struct {
	ThreadTrace string          `json:"threadTrace"`
	Locale      string          `json:"locale,omitempty"`
	TZ          string          `json:"tz,omitempty"`
	Ingress     string          `json:"ingress,omitempty"`
	APILevel    string          `json:"api_level,omitempty"`
	Type        string          `json:"type"`
	Payload     json.RawMessage `json:"payload,omitempty"`
}

type connectPayload struct {
	ProtocolLevel int `json:"protocol_level"`
}

// numOrString accepts a JSON status code sent as either a string
// ("200") or a bare number (200) on input, per the wire rule that both
// forms must parse; it always marshals back out as a string, matching the
// canonical stringified-on-the-wire form.
type numOrString string

func (n numOrString) MarshalJSON() ([]byte, error) {
	return json.Marshal(string(n))
}

func (n *numOrString) UnmarshalJSON(b []byte) error {
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*n = numOrString(s)
		return nil
	}
	*n = numOrString(b)
	return nil
}

type statusPayload struct {
	Status     string      `json:"status"`
	StatusCode numOrString `json:"statusCode"`
	StatusName string      `json:"statusName"`
}

type requestPayload struct {
	Method string        `json:"method"`
	Params []interface{} `json:"params"`
}

type resultPayload struct {
	Status     string      `json:"status"`
	StatusCode numOrString `json:"statusCode"`
	StatusName string      `json:"statusName"`
	Content    interface{} `json:"content"`
}

const osrfMessageClass = "osrfMessage"

func resultContentClass(code int) string {
	switch code {
	case StatusNoContent:
		return "osrfResultPartialComplete"
	case StatusPartial:
		return "osrfResultPartial"
	default:
		return "osrfResult"
	}
}

// Serialize encodes an ordered list of protocol messages into one batch
// body: a JSON array of class-tagged osrfMessage entries.
func Serialize(msgs []Message) ([]byte, error) {
	out := make([]classTagged, 0, len(msgs))
	for _, m := range msgs {
		p := wireMessagePayload{
			ThreadTrace: strconv.FormatInt(m.ThreadTrace, 10),
			Locale:      m.Locale,
			TZ:          m.TZ,
			Ingress:     m.Ingress,
			APILevel:    m.APILevel,
			Type:        string(m.Type),
		}

		var inner classTagged
		var err error
		switch m.Type {
		case Connect:
			inner.Class = "osrfConnect"
			inner.Payload, err = json.Marshal(connectPayload{ProtocolLevel: m.ProtocolLevel})
		case Disconnect:
			// no payload
		case Status:
			inner.Class = "osrfConnectStatus"
			inner.Payload, err = json.Marshal(statusPayload{
				Status:     m.StatusText,
				StatusCode: numOrString(strconv.Itoa(m.StatusCode)),
				StatusName: m.StatusName,
			})
		case Request:
			inner.Class = "osrfMethod"
			inner.Payload, err = json.Marshal(requestPayload{Method: m.Method, Params: m.Params})
		case Result:
			inner.Class = resultContentClass(m.StatusCode)
			inner.Payload, err = json.Marshal(resultPayload{
				Status:     m.StatusText,
				StatusCode: numOrString(strconv.Itoa(m.StatusCode)),
				StatusName: m.StatusName,
				Content:    m.Content,
			})
		default:
			return nil, fmt.Errorf("wire: unknown message type %q: %w", m.Type, ErrMalformedEnvelope)
		}
		if err != nil {
			return nil, fmt.Errorf("wire: encoding %s payload: %w", m.Type, err)
		}
		if m.Type != Disconnect {
			pb, err := json.Marshal(inner)
			if err != nil {
				return nil, fmt.Errorf("wire: encoding inner payload: %w", err)
			}
			p.Payload = pb
		}

		pb, err := json.Marshal(p)
		if err != nil {
			return nil, fmt.Errorf("wire: encoding message envelope: %w", err)
		}
		out = append(out, classTagged{Class: osrfMessageClass, Payload: pb})
	}
	body, err := json.Marshal(out)
	if err != nil {
		return nil, fmt.Errorf("wire: encoding batch: %w", err)
	}
	return body, nil
}

// Parse decodes a batch body into an ordered list of protocol messages.
// Unknown entries are dropped and reported via the returned error (joined
// with errors.Join so siblings still come back); a body that isn't a JSON
// array, or doesn't parse at all, fails outright.
func Parse(body []byte) ([]Message, error) {
	var raw []classTagged
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("wire: parsing batch: %w: %w", ErrMalformedEnvelope, err)
	}

	var msgs []Message
	var errs []error
	for i, entry := range raw {
		if entry.Class != osrfMessageClass {
			errs = append(errs, fmt.Errorf("wire: entry %d has unknown class %q: %w", i, entry.Class, ErrMalformedEnvelope))
			continue
		}
		var p wireMessagePayload
		if err := json.Unmarshal(entry.Payload, &p); err != nil {
			errs = append(errs, fmt.Errorf("wire: entry %d: %w: %w", i, ErrMalformedEnvelope, err))
			continue
		}
		msg, err := decodeMessage(p)
		if err != nil {
			errs = append(errs, fmt.Errorf("wire: entry %d: %w", i, err))
			continue
		}
		if msg.Locale == "" {
			msg.Locale = LastObservedLocale()
		} else {
			observeLocale(msg.Locale)
		}
		msgs = append(msgs, msg)
	}
	return msgs, errors.Join(errs...)
}

func decodeMessage(p wireMessagePayload) (Message, error) {
	trace, err := strconv.ParseInt(p.ThreadTrace, 10, 64)
	if err != nil {
		return Message{}, fmt.Errorf("bad threadTrace %q: %w: %w", p.ThreadTrace, ErrMalformedEnvelope, err)
	}
	m := Message{
		ThreadTrace: trace,
		Locale:      p.Locale,
		TZ:          p.TZ,
		Ingress:     p.Ingress,
		APILevel:    p.APILevel,
		Type:        MessageType(p.Type),
	}

	switch m.Type {
	case Connect:
		var inner classTagged
		var cp connectPayload
		if len(p.Payload) > 0 {
			if err := json.Unmarshal(p.Payload, &inner); err == nil {
				_ = json.Unmarshal(inner.Payload, &cp)
			}
		}
		m.ProtocolLevel = cp.ProtocolLevel
	case Disconnect:
		// nothing further
	case Status:
		var inner classTagged
		if err := json.Unmarshal(p.Payload, &inner); err != nil {
			return Message{}, fmt.Errorf("STATUS payload: %w: %w", ErrMalformedEnvelope, err)
		}
		var sp statusPayload
		if err := json.Unmarshal(inner.Payload, &sp); err != nil {
			return Message{}, fmt.Errorf("STATUS inner payload: %w: %w", ErrMalformedEnvelope, err)
		}
		code, err := parseStatusCode(string(sp.StatusCode))
		if err != nil {
			return Message{}, err
		}
		m.StatusCode = code
		m.StatusName = sp.StatusName
		m.StatusText = sp.Status
	case Request:
		var inner classTagged
		if err := json.Unmarshal(p.Payload, &inner); err != nil {
			return Message{}, fmt.Errorf("REQUEST payload: %w: %w", ErrMalformedEnvelope, err)
		}
		var rp requestPayload
		if err := json.Unmarshal(inner.Payload, &rp); err != nil {
			return Message{}, fmt.Errorf("REQUEST inner payload: %w: %w", ErrMalformedEnvelope, err)
		}
		m.Method = rp.Method
		m.Params = rp.Params
	case Result:
		var inner classTagged
		if err := json.Unmarshal(p.Payload, &inner); err != nil {
			return Message{}, fmt.Errorf("RESULT payload: %w: %w", ErrMalformedEnvelope, err)
		}
		var rp resultPayload
		if err := json.Unmarshal(inner.Payload, &rp); err != nil {
			return Message{}, fmt.Errorf("RESULT inner payload: %w: %w", ErrMalformedEnvelope, err)
		}
		code, err := parseStatusCode(string(rp.StatusCode))
		if err != nil {
			return Message{}, err
		}
		m.StatusCode = code
		m.StatusName = rp.StatusName
		m.StatusText = rp.Status
		m.Content = rp.Content
	default:
		return Message{}, fmt.Errorf("unknown message type %q: %w", p.Type, ErrMalformedEnvelope)
	}
	return m, nil
}

// parseStatusCode accepts both numeric and numeric-string forms, per spec.
func parseStatusCode(s string) (int, error) {
	if s == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("bad status code %q: %w: %w", s, ErrMalformedEnvelope, err)
	}
	return n, nil
}
