// Package extraction turns free-form user text into structured transaction
// intents. The interface is provider-agnostic; the brian subpackage talks to
// the hosted Brian API and is the default implementation.
package extraction
