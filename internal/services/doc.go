// Package services talks to the Spotify Web API on behalf of the kiosk's playback integration.
//
// # Token Provider
//
// [SpotifyAuth] owns the OAuth2 token. [SpotifyAuth.Token] returns an empty string when nobody is
// signed in and refreshes the token when it is within five minutes of expiry. Tokens are persisted
// through a [TokenStore] so a restart keeps the session.
//
// # Playback Client
//
// [SpotifyService] wraps the player endpoints. Every request asks the [TokenProvider] for a bearer
// token and waits on a rate limiter. Control calls are not retried; the poll loop in the playback
// package corrects state on its next tick.
//
// # Status Semantics
//
//   - 200: success, body decoded
//   - 202/204 or an empty 200: success without body; [SpotifyService.PlaybackState] returns nil, nil
//   - 401: [shared.ErrNotAuthenticated]
//   - 404 on player endpoints: [ErrNoActiveDevice]
//   - anything else: [shared.ErrAPIRequest] with the API's message
package services
