// Package rooms keeps the push channel joined to exactly the selected
// conversation's room.
//
// Manager serializes selections under a mutex so that the previous room is
// always left before the next one is joined, and repeated selection of the
// active room sends nothing. Listeners registered with OnChange observe each
// (previous, next) transition.
//
// A join that the channel could only buffer (model.ErrChannelDisconnected)
// is recorded as pending replay. Reconnected re-issues the join for the
// current room unless it is still pending, so a reconnect never produces two
// joins for the same room.
package rooms
