// Package fetch retrieves gadget class definitions, script and stylesheet
// dependencies and inline-transfer sources.
//
// Client layers resty over a retryablehttp transport, waits on a token
// bucket before each request and guards every host with its own circuit
// breaker. Response decodes bodies to UTF-8 (declared charset, else
// detected) and recognizes HTML by Content-Type, sniffing when absent.
package fetch
