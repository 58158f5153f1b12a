package kv

import (
	"context"
	"encoding/json"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"go.opencensus.io/trace"
)

var log = logrus.WithField("prefix", "db")

// encode the given value into bytes for persistence.
func encode(ctx context.Context, v interface{}) ([]byte, error) {
	_, span := trace.StartSpan(ctx, "versafeDB.encode")
	defer span.End()
	if v == nil {
		return nil, errors.New("cannot encode nil value")
	}
	enc, err := json.Marshal(v)
	if err != nil {
		return nil, errors.Wrap(err, "could not marshal record")
	}
	return enc, nil
}

// decode persisted bytes into the destination value.
func decode(ctx context.Context, data []byte, dst interface{}) error {
	_, span := trace.StartSpan(ctx, "versafeDB.decode")
	defer span.End()
	if err := json.Unmarshal(data, dst); err != nil {
		return errors.Wrap(err, "could not unmarshal record")
	}
	return nil
}
