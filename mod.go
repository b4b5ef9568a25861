// Package sondage implements a privacy-preserving rating aggregation engine.
//
// Organizers register multi-dimensional rating activities, participants
// submit per-dimension scores that are only ever handled as opaque
// ciphertext handles, and the engine homomorphically accumulates sums,
// counts and a weighted total per activity while propagating the decryption
// capability of every derived value.
package sondage

import (
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

var logout = zerolog.ConsoleWriter{
	Out:        os.Stdout,
	TimeFormat: time.RFC3339,
}

// Logger is a globally available logger instance.
var Logger = zerolog.New(logout).
	With().Timestamp().Logger().
	With().Caller().Logger().
	Level(zerolog.DebugLevel)

// PromCollectors exposes the prometheus collectors created in the module. An
// external monitoring surface can register them against its own registry.
var PromCollectors []prometheus.Collector
