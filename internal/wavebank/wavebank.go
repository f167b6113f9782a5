// RTSeis - Real-Time Seismic Matched-Filter Detection
// Copyright 2026 RTSeis contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/rtseis/rtseis

// Package wavebank provides the durable packet mirror backed by BadgerDB.
//
// The streaming client mirrors every ingested packet here on a best-effort
// basis; the scheduler reads it back for historical catch-up when templates
// are added at runtime. Writes are keyed per channel and start time so range
// reads are prefix scans in key order.
package wavebank

import (
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"

	"github.com/rtseis/rtseis/internal/waveform"
)

// keyPrefix namespaces waveform records in the store.
const keyPrefix = "wf:"

// ErrNoData is returned when a range read finds no packets.
var ErrNoData = errors.New("wavebank: no data in range")

// Request describes one channel-time-range read for GetBulk.
type Request struct {
	Channel waveform.ChannelID
	Start   time.Time
	End     time.Time
}

// Bank is a BadgerDB-backed waveform store.
type Bank struct {
	db *badger.DB
}

// Open opens (or creates) a wavebank at the given directory.
func Open(path string) (*Bank, error) {
	opts := badger.DefaultOptions(path).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open wavebank at %s: %w", path, err)
	}
	return &Bank{db: db}, nil
}

// OpenInMemory opens an ephemeral wavebank, used in tests and dry runs.
func OpenInMemory() (*Bank, error) {
	opts := badger.DefaultOptions("").WithInMemory(true).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open in-memory wavebank: %w", err)
	}
	return &Bank{db: db}, nil
}

// Close closes the underlying store.
func (b *Bank) Close() error {
	return b.db.Close()
}

// Put stores packets. Packets sharing channel and start time overwrite.
func (b *Bank) Put(packets ...waveform.Packet) error {
	return b.db.Update(func(txn *badger.Txn) error {
		for i := range packets {
			p := &packets[i]
			data, err := json.Marshal(p)
			if err != nil {
				return fmt.Errorf("marshal packet %s @ %s: %w", p.Channel, p.Start, err)
			}
			if err := txn.Set(packetKey(p.Channel, p.Start), data); err != nil {
				return fmt.Errorf("set packet %s @ %s: %w", p.Channel, p.Start, err)
			}
		}
		return nil
	})
}

// GetWaveform returns a single merged packet covering [start, end] for one
// channel. Satisfies the backfill waveform-source contract.
func (b *Bank) GetWaveform(id waveform.ChannelID, start, end time.Time) ([]waveform.Packet, error) {
	var out []waveform.Packet

	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = true
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte(keyPrefix + string(id) + ":")
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var p waveform.Packet
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &p)
			})
			if err != nil {
				return fmt.Errorf("decode packet for %s: %w", id, err)
			}
			if p.End().Before(start) || p.Start.After(end) {
				continue
			}
			sliced := p.Slice(start, end)
			if len(sliced.Samples) > 0 {
				out = append(out, sliced)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, ErrNoData
	}

	merged, err := waveform.Merge(out)
	if err != nil {
		return nil, fmt.Errorf("merge %s range: %w", id, err)
	}
	return []waveform.Packet{merged}, nil
}

// GetBulk reads and merges several channel-time ranges into one stream.
// Channels with no data in range are skipped, not fatal.
func (b *Bank) GetBulk(reqs []Request) (waveform.Stream, error) {
	st := waveform.Stream{}
	for _, req := range reqs {
		packets, err := b.GetWaveform(req.Channel, req.Start, req.End)
		if errors.Is(err, ErrNoData) {
			continue
		}
		if err != nil {
			return waveform.Stream{}, err
		}
		st.Traces = append(st.Traces, packets...)
	}
	return st, nil
}

// packetKey builds the per-channel, time-ordered store key.
func packetKey(id waveform.ChannelID, start time.Time) []byte {
	return []byte(fmt.Sprintf("%s%s:%020d", keyPrefix, id, start.UnixNano()))
}
