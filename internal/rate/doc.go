// Package rate throttles failed logins with Redis fixed-window counters.
//
// Keys:
//   - <prefix>:rl:u:<username>  failed logins per username (lower-cased)
//   - <prefix>:rl:ip:<ip>       failed logins per client IP
package rate
