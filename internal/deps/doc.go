// Package deps checks that the external programs voicelog shells out to are
// installed.
package deps
