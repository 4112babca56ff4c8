package peer

import (
	"errors"
	"fmt"
	"net/netip"

	"github.com/vmihailenco/msgpack/v5"

	"picomesh/space"
	"picomesh/world"
)

// MaxDatagram UDP 单个数据报的安全上限
const MaxDatagram = 65507

// MaxJoinReply 加入应答走 TCP 流，不受数据报大小限制，只防止恶意种子无限发送
const MaxJoinReply = 4 << 20

// ErrMalformed 无法解码的负载
var ErrMalformed = errors.New("malformed payload")

// joinReply 加入应答：地图编号 + 当前 peer 列表（含应答方自己）
type joinReply struct {
	MapID []int    `msgpack:"map_id"`
	Peers []string `msgpack:"peers"`
}

// EncodeJoinReply 编码加入应答
func EncodeJoinReply(id space.MapID, peers []netip.AddrPort) ([]byte, error) {
	r := joinReply{MapID: []int(id), Peers: make([]string, 0, len(peers))}
	for _, p := range peers {
		r.Peers = append(r.Peers, p.String())
	}
	return msgpack.Marshal(&r)
}

// DecodeJoinReply 解码并校验加入应答
func DecodeJoinReply(b []byte) (space.MapID, []netip.AddrPort, error) {
	var r joinReply
	if err := msgpack.Unmarshal(b, &r); err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	id := space.MapID(r.MapID)
	if err := id.Validate(); err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	peers := make([]netip.AddrPort, 0, len(r.Peers))
	for _, s := range r.Peers {
		a, err := netip.ParseAddrPort(s)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: peer %q: %v", ErrMalformed, s, err)
		}
		peers = append(peers, normalize(a))
	}
	return id, peers, nil
}

// EncodeState 编码一个角色快照
func EncodeState(s world.Snapshot) ([]byte, error) {
	return msgpack.Marshal(&s)
}

// DecodeState 解码并校验角色快照
func DecodeState(b []byte) (world.Snapshot, error) {
	var s world.Snapshot
	if err := msgpack.Unmarshal(b, &s); err != nil {
		return world.Snapshot{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if err := s.Validate(); err != nil {
		return world.Snapshot{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return s, nil
}
