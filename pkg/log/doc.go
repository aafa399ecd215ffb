// Package log is the structured logging facade used by every boardlink component.
//
// Components accept a [Logger] and never talk to a logging library directly.
// The default implementation is backed by zerolog:
//
//	logger := log.NewZerologAdapter(log.LevelInfo)
//	logger.Info("link up", log.String("addr", addr))
//
// Tests and embedders that want silence pass [NewNoopLogger] or nil; helpers
// such as [OrNoop] turn a nil Logger into a no-op one.
package log
