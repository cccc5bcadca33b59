package scheduler

import "errors"

// ErrLaunchFailed — процесс run не запустился или завершился с ненулевым кодом.
var ErrLaunchFailed = errors.New("pipeline launch failed")
