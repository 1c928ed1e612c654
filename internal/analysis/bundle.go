package analysis

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"logsentinel/internal/apperr"
	"logsentinel/internal/classify"
	"logsentinel/internal/profile"
)

const SchemaVersion = 1

// Bundle is the persisted form of a coordinator. A nil section means the
// component was not trained when the bundle was written.
type Bundle struct {
	SchemaVersion int                `json:"schema_version"`
	Timestamp     time.Time          `json:"timestamp"`
	Profile       *profile.Data      `json:"profile,omitempty"`
	Classifier    *classify.Metadata `json:"classifier,omitempty"`
}

// BundleStore is an external location a bundle can be written to and read
// back from.
type BundleStore interface {
	WriteBundle(ctx context.Context, data []byte) error
	ReadBundle(ctx context.Context) ([]byte, error)
}

func (c *Coordinator) Bundle() (Bundle, error) {
	s := c.current()
	if !s.classifierReady && !s.scorerReady {
		return Bundle{}, apperr.Validation("analysis.save", "nothing trained to save")
	}
	b := Bundle{SchemaVersion: SchemaVersion, Timestamp: c.now()}
	if s.scorerReady {
		d := s.profile.Data()
		b.Profile = &d
	}
	if s.classifierReady {
		m := s.classifier.Metadata()
		b.Classifier = &m
	}
	return b, nil
}

func (c *Coordinator) Save(w io.Writer) error {
	b, err := c.Bundle()
	if err != nil {
		return err
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(b); err != nil {
		return apperr.Persistence("analysis.save", "encode bundle", err)
	}
	return nil
}

// Load replaces the active profile and classifier with the bundle read from
// r. On any error the previous state stays active.
func (c *Coordinator) Load(r io.Reader) error {
	var b Bundle
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&b); err != nil {
		return apperr.Persistence("analysis.load", "decode bundle", err)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		if err == nil {
			err = errors.New("unexpected data after bundle document")
		}
		return apperr.Persistence("analysis.load", "decode bundle", err)
	}
	next, err := snapshotFromBundle(b)
	if err != nil {
		return apperr.Persistence("analysis.load", "invalid bundle", err)
	}
	c.writeM.Lock()
	defer c.writeM.Unlock()
	c.state.Store(next)
	c.logger.Info("analysis bundle loaded",
		"schema_version", b.SchemaVersion,
		"bundle_timestamp", b.Timestamp,
		"classifier_ready", next.classifierReady,
		"scorer_ready", next.scorerReady,
	)
	return nil
}

func snapshotFromBundle(b Bundle) (*snapshot, error) {
	if b.SchemaVersion != SchemaVersion {
		return nil, fmt.Errorf("unsupported schema version %d", b.SchemaVersion)
	}
	if b.Profile == nil && b.Classifier == nil {
		return nil, fmt.Errorf("bundle has no trained components")
	}
	next := &snapshot{profile: profile.Empty()}
	if b.Profile != nil {
		p, err := profile.FromData(*b.Profile)
		if err != nil {
			return nil, fmt.Errorf("profile: %w", err)
		}
		next.profile = p
		next.scorerReady = true
	}
	if b.Classifier != nil {
		cls, err := classify.FromMetadata(*b.Classifier)
		if err != nil {
			return nil, fmt.Errorf("classifier: %w", err)
		}
		next.classifier = cls
		next.classifierReady = true
	}
	return next, nil
}

func (c *Coordinator) SaveTo(ctx context.Context, store BundleStore) error {
	var buf bytes.Buffer
	if err := c.Save(&buf); err != nil {
		return err
	}
	if err := store.WriteBundle(ctx, buf.Bytes()); err != nil {
		return apperr.Persistence("analysis.save", "write bundle", err)
	}
	return nil
}

func (c *Coordinator) LoadFrom(ctx context.Context, store BundleStore) error {
	data, err := store.ReadBundle(ctx)
	if err != nil {
		return apperr.Persistence("analysis.load", "read bundle", err)
	}
	return c.Load(bytes.NewReader(data))
}
