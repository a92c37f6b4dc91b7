package version

import "fmt"

var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// Info возвращает сведения о сборке, заполняемые через -ldflags.
func Info() (v, c, d string) { return version, commit, date }

// String собирает сведения о сборке в одну строку для логов.
func String() string {
	return fmt.Sprintf("version=%s commit=%s date=%s", version, commit, date)
}
