package wire

import (
	"encoding/json"
	"encoding/xml"
	"fmt"
)

// xmlBatch is the legacy gateway-ingress form. It is not a first-class
// path: params and content are carried as embedded JSON text rather than
// native XML structure, since no re-implementation needs bit-for-bit XML
// fidelity, only a lowering to and from the in-memory Message form.
type xmlBatch struct {
	XMLName  xml.Name     `xml:"messages"`
	Messages []xmlMessage `xml:"message"`
}

type xmlMessage struct {
	Type          string `xml:"type,attr"`
	ThreadTrace   int64  `xml:"threadTrace,attr"`
	Locale        string `xml:"locale,attr,omitempty"`
	TZ            string `xml:"tz,attr,omitempty"`
	Ingress       string `xml:"ingress,attr,omitempty"`
	APILevel      string `xml:"api_level,attr,omitempty"`
	ProtocolLevel int    `xml:"protocolLevel,attr,omitempty"`
	StatusCode    int    `xml:"statusCode,attr,omitempty"`
	StatusName    string `xml:"statusName,attr,omitempty"`
	StatusText    string `xml:"statusText,attr,omitempty"`
	Method        string `xml:"method,omitempty"`
	Params        string `xml:"params,omitempty"`
	Content       string `xml:"content,omitempty"`
}

// SerializeXML lowers msgs into the legacy gateway representation.
func SerializeXML(msgs []Message) ([]byte, error) {
	batch := xmlBatch{Messages: make([]xmlMessage, 0, len(msgs))}
	for _, m := range msgs {
		xm := xmlMessage{
			Type:          string(m.Type),
			ThreadTrace:   m.ThreadTrace,
			Locale:        m.Locale,
			TZ:            m.TZ,
			Ingress:       m.Ingress,
			APILevel:      m.APILevel,
			ProtocolLevel: m.ProtocolLevel,
			StatusCode:    m.StatusCode,
			StatusName:    m.StatusName,
			StatusText:    m.StatusText,
			Method:        m.Method,
		}
		if m.Params != nil {
			b, err := json.Marshal(m.Params)
			if err != nil {
				return nil, fmt.Errorf("wire/xml: encoding params: %w", err)
			}
			xm.Params = string(b)
		}
		if m.Content != nil {
			b, err := json.Marshal(m.Content)
			if err != nil {
				return nil, fmt.Errorf("wire/xml: encoding content: %w", err)
			}
			xm.Content = string(b)
		}
		batch.Messages = append(batch.Messages, xm)
	}
	body, err := xml.Marshal(batch)
	if err != nil {
		return nil, fmt.Errorf("wire/xml: encoding batch: %w", err)
	}
	return body, nil
}

// ParseXML raises the legacy gateway representation back into Messages.
func ParseXML(body []byte) ([]Message, error) {
	var batch xmlBatch
	if err := xml.Unmarshal(body, &batch); err != nil {
		return nil, fmt.Errorf("wire/xml: parsing batch: %w: %w", ErrMalformedEnvelope, err)
	}
	msgs := make([]Message, 0, len(batch.Messages))
	for _, xm := range batch.Messages {
		m := Message{
			Type:          MessageType(xm.Type),
			ThreadTrace:   xm.ThreadTrace,
			Locale:        xm.Locale,
			TZ:            xm.TZ,
			Ingress:       xm.Ingress,
			APILevel:      xm.APILevel,
			ProtocolLevel: xm.ProtocolLevel,
			StatusCode:    xm.StatusCode,
			StatusName:    xm.StatusName,
			StatusText:    xm.StatusText,
			Method:        xm.Method,
		}
		if xm.Params != "" {
			if err := json.Unmarshal([]byte(xm.Params), &m.Params); err != nil {
				return nil, fmt.Errorf("wire/xml: decoding params: %w: %w", ErrMalformedEnvelope, err)
			}
		}
		if xm.Content != "" {
			if err := json.Unmarshal([]byte(xm.Content), &m.Content); err != nil {
				return nil, fmt.Errorf("wire/xml: decoding content: %w: %w", ErrMalformedEnvelope, err)
			}
		}
		if m.Locale == "" {
			m.Locale = LastObservedLocale()
		} else {
			observeLocale(m.Locale)
		}
		msgs = append(msgs, m)
	}
	return msgs, nil
}
