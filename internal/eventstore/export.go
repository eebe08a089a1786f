package eventstore

import (
	"bufio"
	"encoding/json"
	"os"
)

// ExportJSONL writes the store's current contents as JSONL envelopes,
// one line per event, in chronological order (spec §4.2 export_jsonl).
// This is the synchronous, unfiltered dump; the filtered, async,
// sample-rate-aware variant used by the `trace export` CLI lives in
// package trace.
func ExportJSONL(s Store, path string) error {
	events := s.Query(QuerySpec{Order: OrderAsc})

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	enc := json.NewEncoder(w)
	for _, e := range events {
		if err := enc.Encode(ToEnvelope(e)); err != nil {
			return err
		}
	}
	return w.Flush()
}
