package version

var (
	Name        = "hostpool"
	Description = "Bounded host connection pooling for HTTP clients"
	Version     = "v0.1.0"
	Commit      = "none"
	Date        = "nowish"
)

// UserAgent is the default User-Agent the transport stamps on requests that
// carry none
func UserAgent() string {
	return Name + "/" + Version
}
