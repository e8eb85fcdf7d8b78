// Package as implements just enough of ActivityStreams 2.0 and Security
// v1 to build and parse the activity/object shapes this server needs.
// The full JSON-LD processing stack is an external collaborator per
// spec.md §1; this package follows the pack's lighter-weight approach
// (plain tagged structs over a generic JSON document, as in the
// klppl-klistr ap package) rather than a codegen'd vocabulary resolver.
package as

import (
	"encoding/json"
	"fmt"
)

// Well-known vocabulary URIs.
const (
	PublicURI          = "https://www.w3.org/ns/activitystreams#Public"
	ActivityStreamsNS  = "https://www.w3.org/ns/activitystreams"
	SecurityNS         = "https://w3id.org/security/v1"
	ActivityJSONMime   = `application/ld+json; profile="https://www.w3.org/ns/activitystreams"`
)

// DefaultContext is the JSON-LD @context emitted on every object/activity
// this server produces.
var DefaultContext = []interface{}{ActivityStreamsNS, SecurityNS}

// StringOrArray deserializes an AP field that may be either a bare JSON
// string or a JSON array of strings, both legal per the AS2 spec.
type StringOrArray []string

func (s *StringOrArray) UnmarshalJSON(data []byte) error {
	var arr []string
	if err := json.Unmarshal(data, &arr); err == nil {
		*s = arr
		return nil
	}
	var str string
	if err := json.Unmarshal(data, &str); err == nil {
		if str == "" {
			*s = nil
			return nil
		}
		*s = []string{str}
		return nil
	}
	return fmt.Errorf("as: cannot unmarshal %s into string or []string", data)
}

func (s StringOrArray) MarshalJSON() ([]byte, error) {
	return json.Marshal([]string(s))
}

// Has reports whether uri appears in the list.
func (s StringOrArray) Has(uri string) bool {
	for _, v := range s {
		if v == uri {
			return true
		}
	}
	return false
}

// PublicKey is an actor's attached RSA public key (Security v1).
type PublicKey struct {
	ID           string `json:"id"`
	Owner        string `json:"owner"`
	PublicKeyPem string `json:"publicKeyPem"`
}

// Endpoints holds an actor's shared inbox, if any.
type Endpoints struct {
	SharedInbox string `json:"sharedInbox,omitempty"`
}

// Actor represents an ActivityPub actor document (Person, Service, ...).
type Actor struct {
	Context                   interface{} `json:"@context,omitempty"`
	ID                        string      `json:"id"`
	Type                      string      `json:"type"`
	PreferredUsername         string      `json:"preferredUsername"`
	Name                      string      `json:"name,omitempty"`
	Summary                   string      `json:"summary,omitempty"`
	URL                       string      `json:"url,omitempty"`
	Inbox                     string      `json:"inbox"`
	Outbox                    string      `json:"outbox,omitempty"`
	Followers                 string      `json:"followers,omitempty"`
	Following                 string      `json:"following,omitempty"`
	Liked                     string      `json:"liked,omitempty"`
	Endpoints                 *Endpoints  `json:"endpoints,omitempty"`
	PublicKey                 *PublicKey  `json:"publicKey,omitempty"`
	Icon                      *Image      `json:"icon,omitempty"`
	Image                     *Image      `json:"image,omitempty"`
	ManuallyApprovesFollowers bool        `json:"manuallyApprovesFollowers"`
	Published                 string      `json:"published,omitempty"`
}

// Image is an AS2 Image object, used for actor icon/header and Note
// attachments.
type Image struct {
	Type string `json:"type"`
	URL  string `json:"url"`
}

// Object is a Note or Article. Title maps to AS2 "name" for Articles;
// Notes never set it (spec.md §3: "Notes have no title").
type Object struct {
	Context      interface{}   `json:"@context,omitempty"`
	ID           string        `json:"id"`
	Type         string        `json:"type"` // "Note" or "Article"
	AttributedTo string        `json:"attributedTo"`
	Name         string        `json:"name,omitempty"`
	Summary      string        `json:"summary,omitempty"`
	Content      string        `json:"content"`
	URL          string        `json:"url,omitempty"`
	Published    string        `json:"published,omitempty"`
	InReplyTo    string        `json:"inReplyTo,omitempty"`
	To           StringOrArray `json:"to,omitempty"`
	CC           StringOrArray `json:"cc,omitempty"`
	Attachment   []Attachment  `json:"attachment,omitempty"`
}

// Attachment is a media item on an Object.
type Attachment struct {
	Type      string `json:"type"`
	URL       string `json:"url"`
	MediaType string `json:"mediaType,omitempty"`
	Name      string `json:"name,omitempty"`
}

// Activity is a generic outbound ActivityPub activity: Follow, Accept,
// Undo, Create, Announce, Like. Object carries either an object URL
// (string) or an embedded Object/Actor depending on activity type; it
// is marshaled as-is via interface{}.
type Activity struct {
	Context   interface{}   `json:"@context,omitempty"`
	ID        string        `json:"id"`
	Type      string        `json:"type"`
	Actor     string        `json:"actor"`
	Object    interface{}   `json:"object,omitempty"`
	Target    interface{}   `json:"target,omitempty"`
	To        StringOrArray `json:"to,omitempty"`
	CC        StringOrArray `json:"cc,omitempty"`
	Published string        `json:"published,omitempty"`
}

// IncomingActivity is used to parse an inbox POST body where Object may
// be a bare string IRI or an embedded object; callers re-decode Object
// into a concrete type once Type is known.
type IncomingActivity struct {
	Context   interface{}     `json:"@context,omitempty"`
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	Actor     string          `json:"actor"`
	Object    json.RawMessage `json:"object"`
	To        StringOrArray   `json:"to,omitempty"`
	CC        StringOrArray   `json:"cc,omitempty"`
	Published string          `json:"published,omitempty"`
}

// ObjectID extracts the id string whether Object is a bare string IRI
// or an embedded object/activity with an "id" field.
func (ia IncomingActivity) ObjectID() (string, error) {
	var s string
	if err := json.Unmarshal(ia.Object, &s); err == nil {
		return s, nil
	}
	var wrapped struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(ia.Object, &wrapped); err != nil {
		return "", fmt.Errorf("as: object has neither a string nor an id field: %w", err)
	}
	if wrapped.ID == "" {
		return "", fmt.Errorf("as: embedded object has no id")
	}
	return wrapped.ID, nil
}

// ObjectAsObject decodes Object as an embedded Note/Article, for
// Create activities.
func (ia IncomingActivity) ObjectAsObject() (Object, error) {
	var o Object
	if err := json.Unmarshal(ia.Object, &o); err != nil {
		return o, fmt.Errorf("as: decoding embedded object: %w", err)
	}
	return o, nil
}

// CollectionPage is one page of a paginated ordered collection.
type CollectionPage struct {
	Context      interface{} `json:"@context,omitempty"`
	ID           string      `json:"id"`
	Type         string      `json:"type"` // "OrderedCollectionPage"
	PartOf       string      `json:"partOf"`
	Next         string      `json:"next,omitempty"`
	OrderedItems interface{} `json:"orderedItems"`
}

// Collection is the container addressed at e.g. /followers/{handle},
// pointing at the first page.
type Collection struct {
	Context    interface{} `json:"@context,omitempty"`
	ID         string      `json:"id"`
	Type       string      `json:"type"` // "OrderedCollection"
	TotalItems int         `json:"totalItems"`
	First      string      `json:"first"`
}

// WithContext marshals v to a map and injects the default @context,
// mirroring the klppl-klistr WithContext helper used across the pack.
func WithContext(v interface{}) map[string]interface{} {
	data, _ := json.Marshal(v)
	m := make(map[string]interface{})
	_ = json.Unmarshal(data, &m)
	m["@context"] = DefaultContext
	return m
}
