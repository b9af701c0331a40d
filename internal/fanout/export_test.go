package fanout

type SNSAPI = snsAPI

// WithClient overrides the SNS client, for tests.
func WithClient(client snsAPI) Options {
	return func(o *options) {
		o.client = client
	}
}
