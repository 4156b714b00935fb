// Package version отдаёт сведения о сборке, вшитые линковщиком.
package version

import "fmt"

// Перекрываются при релизной сборке:
//
//	go build -ldflags "-X .../internal/version.version=v1.2.3 ..."
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// Info возвращает версию, коммит и дату сборки.
func Info() (v, c, d string) {
	return version, commit, date
}

// String собирает строку для стартового лога и health-ответов.
func String() string {
	v, c, d := Info()
	return fmt.Sprintf("version=%s commit=%s date=%s", v, c, d)
}
