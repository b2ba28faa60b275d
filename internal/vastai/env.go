package vastai

import (
	"net/url"
	"strconv"
	"strings"
)

// RewriteBrokerHost replaces an internal broker hostname in a URL with the
// publicly reachable one, keeping scheme, credentials, port, and vhost.
// Fleet instances run outside the deployment's network, so docker-compose
// service names like "rabbitmq" do not resolve for them.
func RewriteBrokerHost(brokerURL, publicHost string) string {
	if publicHost == "" {
		return brokerURL
	}
	u, err := url.Parse(brokerURL)
	if err != nil || u.Host == "" {
		return brokerURL
	}
	port := u.Port()
	if isPublicHost(u.Hostname()) {
		return brokerURL
	}
	if port != "" {
		u.Host = publicHost + ":" + port
	} else {
		u.Host = publicHost
	}
	return u.String()
}

// isPublicHost reports whether a hostname is already resolvable from outside
// the deployment network: anything dotted that is not a private address.
func isPublicHost(host string) bool {
	if !strings.Contains(host, ".") {
		return false
	}
	for _, prefix := range []string{"10.", "172.", "192.168.", "127."} {
		if strings.HasPrefix(host, prefix) {
			return false
		}
	}
	return true
}

// WorkerEnv builds the environment for a fleet instance: the shared config
// with the broker address rewritten and the worker identity pinned.
func WorkerEnv(base map[string]string, brokerURL, publicHost, hostname string, concurrency int) map[string]string {
	env := make(map[string]string, len(base)+3)
	for k, v := range base {
		env[k] = v
	}
	env["CELERY_BROKER_URL"] = RewriteBrokerHost(brokerURL, publicHost)
	env["CELERY_HOSTNAME"] = hostname
	if concurrency < 1 {
		concurrency = 1
	}
	env["CELERY_CONCURRENCY"] = strconv.Itoa(concurrency)
	return env
}
