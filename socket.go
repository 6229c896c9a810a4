package osal

import (
	"net/netip"
	"sync"

	"golang.org/x/sys/unix"
)

// SocketFamily selects the address family of a socket.
type SocketFamily int32

const (
	FamilyIP SocketFamily = iota
	FamilyIPv6
)

// SocketType selects the transport of a socket.
type SocketType int32

const (
	SocketDgram SocketType = iota
	SocketStream
	SocketICMP
)

// SocketEventMask is the portable readiness encoding shared between socket
// adapters and the wait set. Callers request a subset via SocketEnable; after
// a wait returns a socket handle, SocketTestReadiness reports the observed
// intersection.
type SocketEventMask uint16

const (
	SocketEventRead SocketEventMask = 1 << iota
	SocketEventWrite
	SocketEventAccept
	SocketEventClose
	SocketEventQOS
	SocketEventQOB
	SocketEventAddressChange
)

// Socket wraps an OS socket descriptor plus the requested and observed
// readiness bits, stored in poll encoding. A socket is owned by a single
// logical consumer; concurrent mutation of the requested mask is not
// supported.
type Socket struct {
	mu      sync.Mutex
	handle  Handle
	fd      int
	family  SocketFamily
	events  int16
	revents int16
}

// SocketCreate creates a non-blocking OS socket of the requested family and
// type and returns its handle. Datagram sockets are created broadcast-capable
// and stream sockets with address reuse, matching what the connection layers
// above expect.
func SocketCreate(family SocketFamily, socktype SocketType) (Handle, error) {
	fam := unix.AF_INET
	if family == FamilyIPv6 {
		fam = unix.AF_INET6
	}

	var typ, proto int
	switch socktype {
	case SocketStream:
		typ, proto = unix.SOCK_STREAM, unix.IPPROTO_TCP
	case SocketICMP:
		typ = unix.SOCK_RAW
		if family == FamilyIPv6 {
			proto = unix.IPPROTO_ICMPV6
		} else {
			proto = unix.IPPROTO_ICMP
		}
	default:
		typ, proto = unix.SOCK_DGRAM, unix.IPPROTO_UDP
	}

	fd, err := unix.Socket(fam, typ, proto)
	if err != nil {
		pkgLogger().Err().Stringer("family", family).Err(err).Log("socket create failed")
		return NilHandle, err
	}

	switch socktype {
	case SocketDgram:
		_ = unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_BROADCAST, 1)
	case SocketStream:
		_ = unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		_ = unix.Close(fd)
		return NilHandle, err
	}
	unix.CloseOnExec(fd)

	sock := &Socket{fd: fd, family: family}
	sock.handle = CreateHandle(HandleSocket, sock)
	return sock.handle, nil
}

func (f SocketFamily) String() string {
	if f == FamilyIPv6 {
		return "ipv6"
	}
	return "ip"
}

// SocketBind binds the socket to the local address.
func SocketBind(h Handle, local netip.AddrPort) error {
	sock, release, ok := resolveAs[*Socket](h)
	defer release()
	if !ok {
		return ErrInvalidHandle
	}
	return unix.Bind(sock.fd, sockaddrFromAddrPort(local))
}

// SocketListen marks a stream socket as accepting connections.
func SocketListen(h Handle, backlog int) error {
	sock, release, ok := resolveAs[*Socket](h)
	defer release()
	if !ok {
		return ErrInvalidHandle
	}
	return unix.Listen(sock.fd, backlog)
}

// SocketAccept accepts a pending connection and returns a handle to the new
// socket, which inherits non-blocking mode. Returns ErrWouldBlock when no
// connection is pending.
func SocketAccept(h Handle) (Handle, error) {
	sock, release, ok := resolveAs[*Socket](h)
	defer release()
	if !ok {
		return NilHandle, ErrInvalidHandle
	}

	nfd, _, err := unix.Accept(sock.fd)
	if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
		return NilHandle, ErrWouldBlock
	}
	if err != nil {
		return NilHandle, err
	}
	if err := unix.SetNonblock(nfd, true); err != nil {
		_ = unix.Close(nfd)
		return NilHandle, err
	}
	unix.CloseOnExec(nfd)

	conn := &Socket{fd: nfd, family: sock.family}
	conn.handle = CreateHandle(HandleSocket, conn)
	return conn.handle, nil
}

// SocketConnect starts a connection to the remote address. On a non-blocking
// socket an in-progress connect is not an error; completion is observed via
// write readiness.
func SocketConnect(h Handle, remote netip.AddrPort) error {
	sock, release, ok := resolveAs[*Socket](h)
	defer release()
	if !ok {
		return ErrInvalidHandle
	}

	err := unix.Connect(sock.fd, sockaddrFromAddrPort(remote))
	if err == unix.EINPROGRESS {
		return nil
	}
	return err
}

// SocketSend writes buf to a connected socket. A full send buffer is not an
// error: the result is 0 bytes written and the caller retries after write
// readiness.
func SocketSend(h Handle, buf []byte) (int, error) {
	sock, release, ok := resolveAs[*Socket](h)
	defer release()
	if !ok {
		return 0, ErrInvalidHandle
	}

	n, err := unix.Write(sock.fd, buf)
	if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return n, nil
}

// SocketRecv reads into buf from a connected socket. No data pending is not
// an error: the result is 0 bytes, and the caller retries after read
// readiness.
func SocketRecv(h Handle, buf []byte) (int, error) {
	sock, release, ok := resolveAs[*Socket](h)
	defer release()
	if !ok {
		return 0, ErrInvalidHandle
	}

	n, err := unix.Read(sock.fd, buf)
	if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return n, nil
}

// SocketSendTo sends a datagram to the remote address.
func SocketSendTo(h Handle, buf []byte, remote netip.AddrPort) (int, error) {
	sock, release, ok := resolveAs[*Socket](h)
	defer release()
	if !ok {
		return 0, ErrInvalidHandle
	}

	err := unix.Sendto(sock.fd, buf, 0, sockaddrFromAddrPort(remote))
	if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return len(buf), nil
}

// SocketRecvFrom receives a datagram, returning the byte count and the peer
// address. No datagram pending yields (0, zero AddrPort, nil).
func SocketRecvFrom(h Handle, buf []byte) (int, netip.AddrPort, error) {
	sock, release, ok := resolveAs[*Socket](h)
	defer release()
	if !ok {
		return 0, netip.AddrPort{}, ErrInvalidHandle
	}

	n, from, err := unix.Recvfrom(sock.fd, buf, 0)
	if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
		return 0, netip.AddrPort{}, nil
	}
	if err != nil {
		return 0, netip.AddrPort{}, err
	}
	return n, addrPortFromSockaddr(from), nil
}

// SocketAddress returns the socket's local address, as assigned by bind or
// the kernel.
func SocketAddress(h Handle) (netip.AddrPort, error) {
	sock, release, ok := resolveAs[*Socket](h)
	defer release()
	if !ok {
		return netip.AddrPort{}, ErrInvalidHandle
	}

	sa, err := unix.Getsockname(sock.fd)
	if err != nil {
		return netip.AddrPort{}, err
	}
	return addrPortFromSockaddr(sa), nil
}

// SocketSetSendSize sets the kernel send buffer size.
func SocketSetSendSize(h Handle, size int) {
	sock, release, ok := resolveAs[*Socket](h)
	defer release()
	if ok {
		_ = unix.SetsockoptInt(sock.fd, unix.SOL_SOCKET, unix.SO_SNDBUF, size)
	}
}

// SocketSetRecvSize sets the kernel receive buffer size.
func SocketSetRecvSize(h Handle, size int) {
	sock, release, ok := resolveAs[*Socket](h)
	defer release()
	if ok {
		_ = unix.SetsockoptInt(sock.fd, unix.SOL_SOCKET, unix.SO_RCVBUF, size)
	}
}

// SocketDestroy closes the descriptor and removes the handle.
func SocketDestroy(h Handle) {
	sock, release, ok := resolveAs[*Socket](h)
	if ok {
		sock.mu.Lock()
		if sock.fd >= 0 {
			_ = unix.Close(sock.fd)
			sock.fd = -1
		}
		sock.mu.Unlock()
	}
	release()
	DestroyHandle(h)
}

// SocketEnable records the requested readiness mask, translated to poll
// encoding for the wait set. Reports false on unknown handles.
func SocketEnable(h Handle, mask SocketEventMask) bool {
	sock, release, ok := resolveAs[*Socket](h)
	defer release()
	if !ok {
		return false
	}

	var events int16
	if mask&SocketEventClose != 0 {
		events |= int16(unix.POLLHUP)
	}
	if mask&SocketEventAccept != 0 {
		events |= int16(unix.POLLIN)
	}
	if mask&SocketEventAddressChange != 0 {
		events |= int16(unix.POLLERR)
	}
	if mask&SocketEventQOS != 0 {
		events |= int16(unix.POLLPRI)
	}
	if mask&SocketEventQOB != 0 {
		events |= int16(unix.POLLRDBAND | unix.POLLWRBAND)
	}
	if mask&SocketEventRead != 0 {
		events |= int16(unix.POLLIN)
	}
	if mask&SocketEventWrite != 0 {
		events |= int16(unix.POLLOUT)
	}

	sock.mu.Lock()
	sock.events = events
	sock.mu.Unlock()
	return true
}

// SocketTestReadiness translates the observed poll bits into the portable
// mask.
func SocketTestReadiness(h Handle) SocketEventMask {
	sock, release, ok := resolveAs[*Socket](h)
	defer release()
	if !ok {
		return 0
	}

	sock.mu.Lock()
	revents := sock.revents
	sock.mu.Unlock()

	var mask SocketEventMask
	if revents&int16(unix.POLLHUP) != 0 {
		// Hangup also reports as readable so a consumer draining the socket
		// observes the EOF.
		mask |= SocketEventClose | SocketEventRead
	}
	if revents&int16(unix.POLLIN) != 0 {
		mask |= SocketEventAccept | SocketEventRead
	}
	if revents&int16(unix.POLLERR) != 0 {
		mask |= SocketEventAddressChange
	}
	if revents&int16(unix.POLLPRI) != 0 {
		mask |= SocketEventQOS
	}
	if revents&int16(unix.POLLRDBAND|unix.POLLWRBAND) != 0 {
		mask |= SocketEventQOB
	}
	if revents&int16(unix.POLLOUT) != 0 {
		mask |= SocketEventWrite
	}
	return mask
}

// SocketFD exposes the underlying descriptor for multiplexing.
func SocketFD(h Handle) int {
	sock, release, ok := resolveAs[*Socket](h)
	defer release()
	if !ok {
		return -1
	}
	return sock.fd
}

// socketRequestedEvents returns the requested poll bits for poll setup.
func socketRequestedEvents(h Handle) int16 {
	sock, release, ok := resolveAs[*Socket](h)
	defer release()
	if !ok {
		return 0
	}

	sock.mu.Lock()
	defer sock.mu.Unlock()
	return sock.events
}

// socketSetRevents stores the poll result bits observed by the wait set.
func socketSetRevents(h Handle, revents int16) {
	sock, release, ok := resolveAs[*Socket](h)
	defer release()
	if !ok {
		return
	}

	sock.mu.Lock()
	sock.revents = revents
	sock.mu.Unlock()
}

func sockaddrFromAddrPort(ap netip.AddrPort) unix.Sockaddr {
	if ap.Addr().Is4() || ap.Addr().Is4In6() {
		sa := &unix.SockaddrInet4{Port: int(ap.Port())}
		sa.Addr = ap.Addr().Unmap().As4()
		return sa
	}
	sa := &unix.SockaddrInet6{Port: int(ap.Port())}
	sa.Addr = ap.Addr().As16()
	return sa
}

func addrPortFromSockaddr(sa unix.Sockaddr) netip.AddrPort {
	switch sa := sa.(type) {
	case *unix.SockaddrInet4:
		return netip.AddrPortFrom(netip.AddrFrom4(sa.Addr), uint16(sa.Port))
	case *unix.SockaddrInet6:
		return netip.AddrPortFrom(netip.AddrFrom16(sa.Addr), uint16(sa.Port))
	default:
		return netip.AddrPort{}
	}
}
