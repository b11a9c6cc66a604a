package fhir

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Bundle represents a FHIR Bundle resource. Message exchange with the
// clearinghouse always uses type "message" with the MessageHeader as the
// first entry.
type Bundle struct {
	ResourceType string        `json:"resourceType"`
	ID           string        `json:"id,omitempty"`
	Meta         *Meta         `json:"meta,omitempty"`
	Type         string        `json:"type"`
	Timestamp    string        `json:"timestamp,omitempty"`
	Entry        []BundleEntry `json:"entry,omitempty"`
}

type BundleEntry struct {
	FullURL  string          `json:"fullUrl,omitempty"`
	Resource json.RawMessage `json:"resource,omitempty"`
}

// MessageHeader identifies the event type and the sending and receiving
// organizations of a message bundle.
type MessageHeader struct {
	ResourceType string              `json:"resourceType"`
	ID           string              `json:"id"`
	Meta         *Meta               `json:"meta,omitempty"`
	EventCoding  *Coding             `json:"eventCoding,omitempty"`
	Destination  []MessageDest       `json:"destination,omitempty"`
	Sender       *Reference          `json:"sender,omitempty"`
	Source       *MessageSource      `json:"source,omitempty"`
	Focus        []Reference         `json:"focus,omitempty"`
	Response     *MessageHdrResponse `json:"response,omitempty"`
}

type MessageDest struct {
	Endpoint string     `json:"endpoint,omitempty"`
	Receiver *Reference `json:"receiver,omitempty"`
}

type MessageSource struct {
	Endpoint string `json:"endpoint"`
}

type MessageHdrResponse struct {
	Identifier string `json:"identifier"`
	Code       string `json:"code"` // ok | transient-error | fatal-error
}

// NewMessageBundle creates an empty message Bundle with the given id and
// timestamp. Entries are appended with AddEntry; the MessageHeader must be
// added first.
func NewMessageBundle(id string, ts time.Time) *Bundle {
	return &Bundle{
		ResourceType: "Bundle",
		ID:           id,
		Meta:         &Meta{Profile: []string{ProfileMessageBundle}},
		Type:         "message",
		Timestamp:    FormatInstant(ts),
	}
}

// AddEntry marshals resource and appends it as a bundle entry whose fullUrl
// is the relative "ResourceType/id" reference other entries use to point at
// it.
func (b *Bundle) AddEntry(resourceType, id string, resource interface{}) error {
	raw, err := json.Marshal(resource)
	if err != nil {
		return fmt.Errorf("marshal %s/%s: %w", resourceType, id, err)
	}
	b.Entry = append(b.Entry, BundleEntry{
		FullURL:  FormatReference(resourceType, id),
		Resource: raw,
	})
	return nil
}

// entryIdentity extracts (resourceType, id) from an entry's resource body.
func entryIdentity(e BundleEntry) (string, string) {
	var res struct {
		ResourceType string `json:"resourceType"`
		ID           string `json:"id"`
	}
	if err := json.Unmarshal(e.Resource, &res); err != nil {
		return "", ""
	}
	return res.ResourceType, res.ID
}

// FindResource returns the raw body of the first entry with the given
// resourceType, or nil when the bundle carries none.
func (b *Bundle) FindResource(resourceType string) json.RawMessage {
	for _, e := range b.Entry {
		if rt, _ := entryIdentity(e); rt == resourceType {
			return e.Resource
		}
	}
	return nil
}

// Resources returns the raw bodies of every entry with the given resourceType.
func (b *Bundle) Resources(resourceType string) []json.RawMessage {
	var out []json.RawMessage
	for _, e := range b.Entry {
		if rt, _ := entryIdentity(e); rt == resourceType {
			out = append(out, e.Resource)
		}
	}
	return out
}

// Header decodes the bundle's MessageHeader. The header must be the first
// entry of a message bundle; a bundle without one is not a valid message.
func (b *Bundle) Header() (*MessageHeader, error) {
	raw := b.FindResource("MessageHeader")
	if raw == nil {
		return nil, fmt.Errorf("bundle has no MessageHeader entry")
	}
	var h MessageHeader
	if err := json.Unmarshal(raw, &h); err != nil {
		return nil, fmt.Errorf("decode MessageHeader: %w", err)
	}
	return &h, nil
}

// LocalID derives a deterministic bundle-internal resource id from domain
// input, so that repeated builds of the same input produce structurally
// identical bundles.
func LocalID(prefix string, parts ...string) string {
	clean := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.Map(func(r rune) rune {
			switch {
			case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '.':
				return r
			default:
				return '-'
			}
		}, p)
		clean = append(clean, p)
	}
	return prefix + "-" + strings.Join(clean, "-")
}
