package protocol

// Method names are stable wire strings shared with every client
// implementation. The broker routes all of them opaquely except
// MethodPeerJoin, which drives the join-consent flow.
const (
	// MethodPeerJoin asks the room host to admit a prospective guest.
	// Params: [JoinRequest]. Response: boolean consent.
	MethodPeerJoin = "peer/join"

	// MethodPeerInfo tells a freshly joined peer its own public identity.
	// Params: [PeerAnnouncement].
	MethodPeerInfo = "peer/info"

	// MethodPeerInit is the guest's state bootstrap request to the host.
	MethodPeerInit = "peer/init"

	// MethodRoomJoined announces a new member to the existing peers.
	// Params: [PeerAnnouncement].
	MethodRoomJoined = "room/joined"

	// MethodRoomLeft announces a departed member. Params: [PeerAnnouncement].
	MethodRoomLeft = "room/left"

	// MethodRoomClosed tells guests the room is gone.
	MethodRoomClosed = "room/closed"

	// MethodRoomPermissions carries host-driven permission changes.
	MethodRoomPermissions = "room/permissionsUpdated"

	MethodEditorUpdate   = "editor/update"
	MethodEditorPresence = "editor/presence"

	MethodFSStat      = "fileSystem/stat"
	MethodFSMkdir     = "fileSystem/mkdir"
	MethodFSReadFile  = "fileSystem/readFile"
	MethodFSWriteFile = "fileSystem/writeFile"
	MethodFSReadDir   = "fileSystem/readDir"
	MethodFSDelete    = "fileSystem/delete"
	MethodFSRename    = "fileSystem/rename"
)

// JoinRequest is the single param of a peer/join consent request. It
// carries only the public user fields; server-side account ids never
// reach other peers.
type JoinRequest struct {
	Name  string `json:"name"`
	Email string `json:"email,omitempty"`
}

// PeerAnnouncement is the payload of peer/info, room/joined and room/left:
// the public projection of one connected peer.
type PeerAnnouncement struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email,omitempty"`
}
