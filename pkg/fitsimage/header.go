package fitsimage

import (
	"os"

	"github.com/astrogo/fitsio"

	"github.com/abworrall/skymodel/pkg/coord"
	"github.com/abworrall/skymodel/pkg/errors"
)

// Header is an ordered set of FITS cards, addressable by keyword.
type Header struct {
	keys  []string
	cards coord.Cards
	notes map[string]string
}

func NewHeader() *Header {
	return &Header{cards: coord.Cards{}, notes: map[string]string{}}
}

// Get implements coord.Header.
func (h *Header) Get(key string) (any, bool) { return h.cards.Get(key) }

// Set adds or replaces a card, keeping its original position.
func (h *Header) Set(key string, v any, comment ...string) {
	if _, ok := h.cards[key]; !ok {
		h.keys = append(h.keys, key)
	}
	h.cards[key] = v
	if len(comment) > 0 {
		h.notes[key] = comment[0]
	}
}

func (h *Header) Delete(key string) {
	if _, ok := h.cards[key]; !ok {
		return
	}
	delete(h.cards, key)
	delete(h.notes, key)
	for i, k := range h.keys {
		if k == key {
			h.keys = append(h.keys[:i], h.keys[i+1:]...)
			break
		}
	}
}

func (h *Header) Keys() []string { return append([]string(nil), h.keys...) }

func (h *Header) Copy() *Header {
	c := NewHeader()
	for _, k := range h.keys {
		c.Set(k, h.cards[k], h.notes[k])
	}
	return c
}

// HeaderOf copies the cards of a fitsio header.
func HeaderOf(fh *fitsio.Header) *Header {
	h := NewHeader()
	for _, k := range fh.Keys() {
		if c := fh.Get(k); c != nil {
			h.Set(c.Name, c.Value, c.Comment)
		}
	}
	return h
}

// structural cards are regenerated on write
var structural = map[string]bool{
	"SIMPLE": true, "BITPIX": true, "NAXIS": true, "EXTEND": true, "BSCALE": true,
	"BZERO": true, "BLANK": true, "END": true, "COMMENT": true, "HISTORY": true, "": true,
}

func isStructural(key string) bool {
	if structural[key] {
		return true
	}
	if len(key) > 5 && key[:5] == "NAXIS" {
		return true
	}
	return false
}

// fitsCards lists the non-structural cards for writing.
func (h *Header) fitsCards() []fitsio.Card {
	var out []fitsio.Card
	for _, k := range h.keys {
		if isStructural(k) {
			continue
		}
		out = append(out, fitsio.Card{Name: k, Value: h.cards[k], Comment: h.notes[k]})
	}
	return out
}

// ReadHeader returns the primary header of a FITS file.
func ReadHeader(filename string) (*Header, error) {
	r, err := os.Open(filename)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeInvalidInput, err, "can't open %s", filename)
	}
	defer r.Close()
	f, err := fitsio.Open(r)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeFileFormat, err, "%s: not a FITS file", filename)
	}
	defer f.Close()
	return HeaderOf(f.HDU(0).Header()), nil
}
