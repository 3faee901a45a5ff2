package settings

import "errors"

// ErrNotFound is returned by Load when no document has been saved yet.
var ErrNotFound = errors.New("settings not found")

// Store persists the manager configuration document.
// A file store is the default; Consul KV can back it on managed fleets.
type Store interface {
	Load() (*Document, error)
	Save(*Document) error
}

// LoadOrCreate loads the document, writing a default one when none exists.
func LoadOrCreate(s Store) (doc *Document, created bool, err error) {
	doc, err = s.Load()
	if err == nil {
		return doc, false, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, false, err
	}
	doc = NewDocument()
	if err := s.Save(doc); err != nil {
		return nil, false, err
	}
	return doc, true, nil
}
