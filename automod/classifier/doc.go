// Client side of the external content classifier.
//
// A Classifier turns a piece of post content (text body, or an image locator) into a structured Verdict. Implementations never retry: any upstream or parse problem comes back as a *Failure and the caller decides what to do with it.
//
// GeminiClient talks to the Generative Language REST API. RateLimited wraps any Classifier.
package classifier
