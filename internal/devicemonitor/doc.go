// Package devicemonitor listens for udev netlink events and reports when a
// watched capture device node disappears, so a recording can treat an
// unplugged camera as a revoked source.
package devicemonitor
