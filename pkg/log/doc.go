/*
Package log provides structured logging for the fleet autoscaler using
zerolog.

Init configures a single global zerolog.Logger; WithComponent yields a
child logger tagged for one of the components that log (masterclient,
vmclient, demand, fault, reconciler). Console output is the default (a
zero Config, and the CLI without --log-json); JSON output is selected
with Config.JSONOutput, which the CLI's --log-json flag sets.
*/
package log
