// Package geopump provides bulk, streaming transfer of geospatial tables
// between local in-memory frames and a CARTO-style PostGIS warehouse.
//
// Data moves through the database's native COPY protocol in both directions:
// downloads stream COPY ... TO output and reconstruct a typed frame (dates
// parsed, geometries decoded, the warehouse index column promoted to the
// frame index); uploads classify the frame's columns, prepare the target
// table according to a write mode (fail, replace, append), and stream every
// row through a single COPY ... FROM channel.
//
// # Architecture
//
// The library is organized as a thin stack of packages:
//
//   - pkg/frame: the column-ordered in-memory table container
//   - pkg/geom: geometry encoding detection and decoding (WKB, hex WKB,
//     WKT, and their SRID-prefixed variants) built on paulmach/orb
//   - pkg/columns: column classification, name normalization and
//     PostgreSQL type inference
//   - pkg/rowcodec: the pipe-delimited COPY record encoder
//   - pkg/client: authenticated transports — the hosted SQL API over HTTP
//     and direct PostgreSQL wire access via pgx
//   - pkg/transfer: the Manager orchestrating CopyTo and CopyFrom,
//     including bounded rate-limit retry for downloads
//
// # Quick Start
//
// Download a table into a frame and write it back under a new name:
//
//	cfg := config.NewBaseConfig("my-transfer")
//	cfg.Credentials.BaseURL = "https://acme.carto.com"
//	cfg.Credentials.APIKey = os.Getenv("CARTO_API_KEY")
//
//	c, err := client.NewCartoClient(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	mgr := transfer.NewManager(c)
//
//	f, err := mgr.CopyTo(ctx, transfer.CopyToOptions{Source: "places"})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := mgr.CopyFrom(ctx, f, "places_copy", transfer.IfExistsReplace); err != nil {
//	    log.Fatal(err)
//	}
//
// Errors are structured (pkg/geoperrors) and categorized; rate-limit errors
// from the store are retried during downloads up to a per-session budget,
// everything else propagates to the caller unchanged.
package geopump
