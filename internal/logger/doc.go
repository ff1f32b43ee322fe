// Package logger wraps zap to offer:
//   - a global sugared logger writing a console encoding to stdout,
//   - an optional JSON file sink rotated by lumberjack,
//   - context helpers (ToContext/FromContext/WithName/WithKV),
//   - level parsing and convenience functions (Infof, ErrorKV, etc.).
//
// Services receive a context and extract the logger from it, so every prepare
// request logs with its own request ID and device fields.
package logger
