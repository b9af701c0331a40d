package queue

type SQSAPI = sqsAPI

// WithClient overrides the SQS client, for tests.
func WithClient(client sqsAPI) Options {
	return func(o *options) {
		o.client = client
	}
}
