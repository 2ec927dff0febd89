// Package transports imports all built-in transports for auto-registration.
// Import this package to have every transport registered with the default registry.
package transports

import (
	// Import all transports for side-effect registration
	_ "github.com/drblury/messageless/transport/aws"
	_ "github.com/drblury/messageless/transport/channel"
	_ "github.com/drblury/messageless/transport/http"
	_ "github.com/drblury/messageless/transport/jetstream"
	_ "github.com/drblury/messageless/transport/kafka"
	_ "github.com/drblury/messageless/transport/nats"
	_ "github.com/drblury/messageless/transport/postgres"
	_ "github.com/drblury/messageless/transport/rabbitmq"
	_ "github.com/drblury/messageless/transport/sqlite"
)
