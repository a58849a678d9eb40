// Package bootstrap seeds the peer database from sources outside the
// network: a YAML peer file, or several sources tried in order.
package bootstrap
