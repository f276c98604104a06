package video

import (
	"fmt"
	"nvr/pkg/log"
)

func sendLogf(
	logger *log.Logger,
	conf PathConf,
	level log.Level,
	prefix string,
	format string,
	a ...interface{},
) {
	processName := func() string {
		if conf.IsSub {
			return "sub"
		}
		return "main"
	}()

	event := func() *log.Event {
		switch level {
		case log.LevelError:
			return logger.Error()
		case log.LevelWarning:
			return logger.Warn()
		case log.LevelDebug:
			return logger.Debug()
		default:
			return logger.Info()
		}
	}()

	event.Src("monitor").
		Monitor(conf.MonitorID).
		Msgf("%v %v: %v", prefix, processName, fmt.Sprintf(format, a...))
}
