package params

type SSMAPI = ssmAPI

// WithClient overrides the SSM client, for tests.
func WithClient(client ssmAPI) Options {
	return func(o *options) {
		o.client = client
	}
}
