// Package limits provides centralized wire size limits for the game link
// protocol so that every transport validates frames the same way.
package limits
