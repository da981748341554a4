/*
Package network configures the cluster network topology of a node.

The cluster runs two networks. The controller is attached to both: eth0 is
its gateway to the outside and eth1 sits on the worker network. Workers are
only attached to the worker network and reach the outside through the
controller:

	┌──────────── outside ────────────┐
	│                                  │
	│   eth0 (MASQUERADE)              │
	│   ┌──────────────────┐           │
	│   │    controller    │           │
	│   └────────┬─────────┘           │
	│            │ eth1                │
	│   ─────────┴────── worker net    │
	│      │         │                 │
	│  compute1   compute2  (default   │
	│                        via ctl)  │
	└──────────────────────────────────┘

# Controller

	sysctl -w net.ipv4.ip_forward=1
	iptables -t nat -A POSTROUTING -o eth0 -j MASQUERADE
	iptables -A FORWARD -i eth1 -o eth0 -j ACCEPT
	iptables -A FORWARD -i eth0 -o eth1 -j ACCEPT

Each rule is probed with -C first and only appended when missing, so a
restarted node does not stack duplicate rules.

# Worker

	ip route replace default via <controller address>

All commands are elevated through the runner.
*/
package network
