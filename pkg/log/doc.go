/*
Package log provides structured logging for initd using zerolog.

A single global Logger is initialized once via Init and then scoped
with WithComponent for an initd subsystem (e.g. "resolver",
"supervisor", "reactor") or WithComponentName / WithCapability for a
specific managed unit. Console output is the default (cmd/initd's
--log-json flag is false unless set); JSONOutput switches to
structured JSON lines.

	log.Init(log.Config{Level: log.InfoLevel, JSONOutput: true})
	sup := log.WithComponent("supervisor")
	sup.Info().Str("unit", "network-config").Msg("starting")

Never log secrets (manifest environment values, checkpoint encryption
material). Structured fields, not string concatenation, are mandatory
for anything that includes operator- or manifest-supplied text.
*/
package log
