package offline

import (
	"context"
	"encoding/gob"
	"errors"
	"fmt"
	"hash/fnv"
	"io"
	"reflect"
	"strings"
)

type dumpRecord struct {
	Generation string
	Key        RequestKey
	Response   *Response
}

// Dump saves entries of all generations and returns a number of processed entries.
//
// Dump starts with a fingerprint of entry types, Restore rejects dumps with another fingerprint.
func (m *Memory) Dump(w io.Writer) (int, error) {
	encoder := gob.NewEncoder(w)

	if err := encoder.Encode(dumpFingerprint()); err != nil {
		return 0, err
	}

	ids, err := m.Keys(context.Background())
	if err != nil {
		return 0, err
	}

	total := 0

	for _, id := range ids {
		g, ok := m.generations.Load(id)
		if !ok {
			continue
		}

		n, err := g.Walk(func(key RequestKey, resp *Response) error {
			return encoder.Encode(dumpRecord{Generation: id, Key: key, Response: resp})
		})

		total += n

		if err != nil {
			return total, err
		}
	}

	return total, nil
}

// Restore loads entries into generations and returns number of processed entries.
func (m *Memory) Restore(r io.Reader) (int, error) {
	var (
		ctx     = context.Background()
		decoder = gob.NewDecoder(r)
		fp      uint64
		n       = 0
	)

	if err := decoder.Decode(&fp); err != nil {
		return 0, fmt.Errorf("read dump fingerprint: %w", err)
	}

	if fp != dumpFingerprint() {
		return 0, ErrIncompatibleDump
	}

	for {
		var rec dumpRecord

		err := decoder.Decode(&rec)
		if errors.Is(err, io.EOF) {
			break
		}

		if err != nil {
			return n, err
		}

		g, err := m.Open(ctx, rec.Generation)
		if err != nil {
			return n, err
		}

		if err := g.Put(ctx, rec.Key, rec.Response); err != nil {
			return n, err
		}

		n++
	}

	m.log.Info(ctx, "restored cache entries", "name", m.config.Name, "count", n)

	return n, nil
}

func dumpFingerprint() uint64 {
	h := fnv.New64()
	recursiveTypeHash(reflect.TypeOf(dumpRecord{}), h, map[reflect.Type]bool{})

	return h.Sum64()
}

// recursiveTypeHash hashes exported structure of a type.
func recursiveTypeHash(t reflect.Type, h io.Writer, met map[reflect.Type]bool) {
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}

	if met[t] {
		return
	}

	met[t] = true

	switch t.Kind() {
	case reflect.Struct:
		for i := 0; i < t.NumField(); i++ {
			f := t.Field(i)

			if f.Name != "" && (f.Name[0:1] == strings.ToLower(f.Name[0:1])) {
				continue
			}

			// nolint:errcheck // fnv.Write never returns an error.
			_, _ = h.Write([]byte(f.Name))

			recursiveTypeHash(f.Type, h, met)
		}
	case reflect.Slice, reflect.Array:
		recursiveTypeHash(t.Elem(), h, met)
	case reflect.Map:
		recursiveTypeHash(t.Key(), h, met)
		recursiveTypeHash(t.Elem(), h, met)
	default:
		// nolint:errcheck // fnv.Write never returns an error.
		_, _ = h.Write([]byte(t.String()))
	}
}
