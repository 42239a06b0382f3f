// Package ragcore provides the retrieval core of a script content-rating
// system: embedding, vector indexing, lexical fallback, and query routing
// behind a single engine API.
//
// # Quick Start
//
// Install the CLI:
//
//	go install github.com/scriptrate/ragcore/cmd/ragcore@latest
//
// Create a configuration:
//
//	yaml
//	embedding:
//	  provider: "mock"
//	  dimension: 8
//	vector:
//	  store: "chromem"
//	  collection: "guidelines"
//	router:
//	  strategy: "auto"
//
// Index and search:
//
//	ragcore index --config ragcore.yaml --text "Violence is rated by severity"
//	ragcore search --config ragcore.yaml "violent content"
//
// # Using as Go Library
//
// Import the engine package:
//
//	import "github.com/scriptrate/ragcore/pkg/rag"
//
// Or compose the layers directly:
//
//	import (
//	    "github.com/scriptrate/ragcore/pkg/embedding"
//	    "github.com/scriptrate/ragcore/pkg/vector"
//	    "github.com/scriptrate/ragcore/pkg/router"
//	)
//
// # Architecture
//
// The engine is built from three layers, leaves first:
//
//   - embedding: a provider chain (OpenAI, Ollama, mock) with a Redis
//     cache, per-provider circuit breakers, and ordered fallback.
//   - vector: a Store facade over Qdrant or embedded chromem-go, with an
//     optional search-result cache, plus an in-process TF-IDF shadow
//     index in pkg/lexical.
//   - router: per-query strategy selection (auto, vector, lexical,
//     hybrid) with confidence-based widening, hybrid score merging, and
//     a query-result cache.
//
// pkg/rag composes the layers into an Engine that owns indexing,
// search, deletion, health, and metrics end to end.
package ragcore
