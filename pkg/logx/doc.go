// Package logx configures scrapesched's structured logging.
//
// This repo uses a small wrapper (logx.Logger) on top of zerolog to keep:
//   - Console output readable (short timestamp + short caller)
//   - File output JSON-structured
//   - Sinks swappable at runtime (config reload adjusts level/file without
//     re-deriving component loggers)
package logx
