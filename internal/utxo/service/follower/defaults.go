package follower

import "time"

const (
	defaultChunkSize     = 100
	defaultConfirmations = 1

	sleepDuration     = 5 * time.Second
	longSleepDuration = 30 * time.Second

	blockWriterFlushSize     = 500
	blockWriterFlushInterval = time.Second
	blockWriterRPS           = 20
)
