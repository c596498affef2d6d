// Package provider is the transport to an OpenAI-compatible chat-completions
// endpoint.
//
// A Transport posts one streaming request and hands back the raw SSE body;
// decoding the stream is the caller's job. The HTTP implementation retries
// connection failures and rate-limit responses with exponential backoff and
// turns every other non-2xx response into a *StatusError whose message is
// safe to show to users:
//
//	t := provider.NewHTTPTransport(nil)
//	body, err := t.Stream(ctx, provider.Endpoint{
//	    URL:    "https://api.openai.com/v1/chat/completions",
//	    APIKey: "sk-...",
//	}, &req)
//	if err != nil {
//	    var se *provider.StatusError
//	    if errors.As(err, &se) {
//	        // render se.Error() as an assistant error message
//	    }
//	}
//	defer body.Close()
package provider
