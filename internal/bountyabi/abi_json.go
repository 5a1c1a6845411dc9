package bountyabi

const nativeEscrowABIJSON = `[
  {
    "inputs": [
      {"internalType":"uint8","name":"_tokenType","type":"uint8"},
      {"internalType":"uint256","name":"_amount","type":"uint256"}
    ],
    "name":"createBounty",
    "outputs":[{"internalType":"bytes32","name":"","type":"bytes32"}],
    "stateMutability":"payable",
    "type":"function"
  },
  {
    "inputs": [{"internalType":"bytes32","name":"_bountyId","type":"bytes32"}],
    "name":"getBountyInfo",
    "outputs": [
      {"internalType":"address","name":"creator","type":"address"},
      {"internalType":"uint256","name":"amount","type":"uint256"},
      {"internalType":"bool","name":"isPaid","type":"bool"},
      {"internalType":"uint8","name":"tokenType","type":"uint8"}
    ],
    "stateMutability":"view",
    "type":"function"
  },
  {
    "inputs": [
      {"internalType":"bytes32","name":"_bountyId","type":"bytes32"},
      {"internalType":"address","name":"_winner","type":"address"}
    ],
    "name":"payBounty",
    "outputs":[],
    "stateMutability":"nonpayable",
    "type":"function"
  },
  {
    "anonymous":false,
    "inputs": [
      {"indexed":false,"internalType":"bytes32","name":"bountyId","type":"bytes32"},
      {"indexed":false,"internalType":"address","name":"creator","type":"address"},
      {"indexed":false,"internalType":"uint256","name":"amount","type":"uint256"},
      {"indexed":false,"internalType":"uint8","name":"tokenType","type":"uint8"}
    ],
    "name":"BountyCreated",
    "type":"event"
  },
  {
    "anonymous":false,
    "inputs": [
      {"indexed":false,"internalType":"bytes32","name":"bountyId","type":"bytes32"},
      {"indexed":false,"internalType":"address","name":"winner","type":"address"},
      {"indexed":false,"internalType":"uint256","name":"amount","type":"uint256"},
      {"indexed":false,"internalType":"uint8","name":"tokenType","type":"uint8"}
    ],
    "name":"BountyPaid",
    "type":"event"
  }
]`

const erc20EscrowABIJSON = `[
  {
    "inputs": [{"internalType":"uint256","name":"_amount","type":"uint256"}],
    "name":"createBounty",
    "outputs":[{"internalType":"bytes32","name":"","type":"bytes32"}],
    "stateMutability":"nonpayable",
    "type":"function"
  },
  {
    "inputs": [{"internalType":"bytes32","name":"_bountyId","type":"bytes32"}],
    "name":"getBountyInfo",
    "outputs": [
      {"internalType":"address","name":"creator","type":"address"},
      {"internalType":"uint256","name":"amount","type":"uint256"},
      {"internalType":"bool","name":"isPaid","type":"bool"}
    ],
    "stateMutability":"view",
    "type":"function"
  },
  {
    "inputs": [
      {"internalType":"bytes32","name":"_bountyId","type":"bytes32"},
      {"internalType":"address","name":"_winner","type":"address"}
    ],
    "name":"payBounty",
    "outputs":[],
    "stateMutability":"nonpayable",
    "type":"function"
  },
  {
    "anonymous":false,
    "inputs": [
      {"indexed":false,"internalType":"bytes32","name":"bountyId","type":"bytes32"},
      {"indexed":false,"internalType":"address","name":"creator","type":"address"},
      {"indexed":false,"internalType":"uint256","name":"amount","type":"uint256"}
    ],
    "name":"BountyCreated",
    "type":"event"
  },
  {
    "anonymous":false,
    "inputs": [
      {"indexed":false,"internalType":"bytes32","name":"bountyId","type":"bytes32"},
      {"indexed":false,"internalType":"address","name":"winner","type":"address"},
      {"indexed":false,"internalType":"uint256","name":"amount","type":"uint256"}
    ],
    "name":"BountyPaid",
    "type":"event"
  }
]`
