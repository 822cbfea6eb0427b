package server

// RoomRouter binds connections to conversation rooms. Like the Registry it
// belongs to the ChatServer loop.
type RoomRouter struct {
	rooms    map[string]map[*Client]struct{}
	byClient map[*Client]map[string]struct{}
}

func NewRoomRouter() *RoomRouter {
	return &RoomRouter{
		rooms:    make(map[string]map[*Client]struct{}),
		byClient: make(map[*Client]map[string]struct{}),
	}
}

// Join subscribes c to the room. created reports that the room had no
// members before.
func (rr *RoomRouter) Join(c *Client, conversationId string) (joined, created bool) {
	members, ok := rr.rooms[conversationId]
	if !ok {
		members = make(map[*Client]struct{})
		rr.rooms[conversationId] = members
		created = true
	}

	if _, ok := members[c]; ok {
		return false, false
	}
	members[c] = struct{}{}

	joinedRooms, ok := rr.byClient[c]
	if !ok {
		joinedRooms = make(map[string]struct{})
		rr.byClient[c] = joinedRooms
	}
	joinedRooms[conversationId] = struct{}{}

	return true, created
}

// Leave unsubscribes c from the room. removed reports that the room is now empty.
func (rr *RoomRouter) Leave(c *Client, conversationId string) (left, removed bool) {
	members, ok := rr.rooms[conversationId]
	if !ok {
		return false, false
	}
	if _, ok := members[c]; !ok {
		return false, false
	}

	delete(members, c)
	if len(members) == 0 {
		delete(rr.rooms, conversationId)
		removed = true
	}

	if joinedRooms, ok := rr.byClient[c]; ok {
		delete(joinedRooms, conversationId)
		if len(joinedRooms) == 0 {
			delete(rr.byClient, c)
		}
	}

	return true, removed
}

// LeaveAll unsubscribes c from every room and returns how many rooms emptied.
func (rr *RoomRouter) LeaveAll(c *Client) int {
	emptied := 0
	for id := range rr.byClient[c] {
		if _, removed := rr.Leave(c, id); removed {
			emptied++
		}
	}
	return emptied
}

func (rr *RoomRouter) Members(conversationId string) []*Client {
	members := make([]*Client, 0, len(rr.rooms[conversationId]))
	for c := range rr.rooms[conversationId] {
		members = append(members, c)
	}
	return members
}

func (rr *RoomRouter) IsMember(c *Client, conversationId string) bool {
	_, ok := rr.rooms[conversationId][c]
	return ok
}

// Rooms returns the ids of the rooms c is subscribed to.
func (rr *RoomRouter) Rooms(c *Client) []string {
	ids := make([]string, 0, len(rr.byClient[c]))
	for id := range rr.byClient[c] {
		ids = append(ids, id)
	}
	return ids
}

func (rr *RoomRouter) Len() int {
	return len(rr.rooms)
}
