// Package auth integrates the node with the cluster directory service
// through SSSD and brings up munge, the credential service the scheduler
// daemons authenticate each other with.
package auth
