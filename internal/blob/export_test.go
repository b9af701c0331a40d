package blob

type S3API = s3API

// WithClient overrides the S3 client, for tests.
func WithClient(client s3API) Options {
	return func(o *options) {
		o.client = client
	}
}
