// Package server runs the short-lived local HTTP server that completes browser OAuth flows.
//
// # Router Infrastructure
//
// The [Router] interface defines HTTP routing with middleware support.
//
// [Middleware] wraps handlers in reverse order (last added executes first), following the standard Go pattern.
//
// The [BasicRouter] implementation uses [http.ServeMux] internally with method filtering.
//
// # OAuth Callback Handler
//
// [OAuthHandler] validates the state parameter, exchanges the authorization code for a token and
// sends the result through a channel. It processes a single callback; later hits are rejected.
//
// # Authorization Flow
//
// [Authorize] wires the two together: it starts a server on the configured callback address, opens the
// provider's consent page in the system browser and waits for the callback, a timeout or context
// cancellation before shutting the server down.
package server
