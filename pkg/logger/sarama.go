// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package logger

import (
	"fmt"
	"strings"
)

// SaramaAdapter routes Kafka client logging into zerolog at debug level.
// It satisfies sarama.StdLogger.
type SaramaAdapter struct{}

func (SaramaAdapter) Print(v ...interface{}) {
	Debug().Str("component", "kafka").Msg(strings.TrimSpace(fmt.Sprint(v...)))
}

func (SaramaAdapter) Printf(format string, v ...interface{}) {
	Debug().Str("component", "kafka").Msg(strings.TrimSpace(fmt.Sprintf(format, v...)))
}

func (SaramaAdapter) Println(v ...interface{}) {
	Debug().Str("component", "kafka").Msg(strings.TrimSpace(fmt.Sprintln(v...)))
}
