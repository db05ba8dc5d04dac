/*
Package supervisor is the apply side of the resolver/supervisor split
§4.3 describes: pkg/resolver decides that a component should be
promoted or demoted; Supervisor decides how, by forking processes,
reaping them, and driving the state machine of §4.2.

	sup, _ := supervisor.New(reg, "/run/initd/logs")
	go func() {
		for ev := range sup.Exits() {
			sup.HandleExit(ev)
		}
	}()
	resolver.New(reg).Resolve(sup.Apply)
*/
package supervisor
