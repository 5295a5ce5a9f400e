package netutil

import (
	"fmt"
	"net"
)

// GetOutboundIP 返回本机对外通信使用的 IP（不会真正发包）
func GetOutboundIP() (string, error) {
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return "", fmt.Errorf("detect outbound ip: %w", err)
	}
	defer conn.Close()
	return conn.LocalAddr().(*net.UDPAddr).IP.String(), nil
}
